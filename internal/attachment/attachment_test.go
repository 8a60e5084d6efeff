package attachment

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestFromFile(t *testing.T) {
	t.Run("valid png", func(t *testing.T) {
		data := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 100)...)
		path := writeFile(t, "hw.png", data)

		a, err := FromFile(path)
		require.NoError(t, err)
		assert.Equal(t, KindImage, a.Kind)
		assert.Equal(t, "hw.png", a.Name)
		assert.Equal(t, "image/png", a.MIME)
		assert.Equal(t, int64(len(data)), a.Size)
		assert.Equal(t, data, a.Data)
	})

	t.Run("rejects non-image", func(t *testing.T) {
		path := writeFile(t, "notes.txt", []byte("just some homework notes"))

		_, err := FromFile(path)
		require.ErrorIs(t, err, ErrNotImage)
	})

	t.Run("rejects oversized image", func(t *testing.T) {
		data := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, MaxImageSize)...)
		path := writeFile(t, "big.png", data)

		_, err := FromFile(path)
		require.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := FromFile(filepath.Join(t.TempDir(), "nope.png"))
		require.Error(t, err)
	})
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.00 KB", FormatSize(1024))
	assert.Equal(t, "1.50 KB", FormatSize(1536))
	assert.Equal(t, "1.00 MB", FormatSize(1024*1024))
}

func TestPreviewLifecycle(t *testing.T) {
	a := &Attachment{Kind: KindImage, Name: "hw.png", MIME: "image/png", Size: 8, Data: pngHeader}

	p, err := a.NewPreview()
	require.NoError(t, err)
	require.NotEmpty(t, p.Ref())

	got, err := os.ReadFile(p.Ref())
	require.NoError(t, err)
	assert.Equal(t, a.Data, got)

	p.Release()
	_, err = os.Stat(p.Ref())
	assert.True(t, os.IsNotExist(err))

	// Releasing again, or releasing a nil preview, must be harmless.
	p.Release()
	var nilPreview *Preview
	nilPreview.Release()
}
