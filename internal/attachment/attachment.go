// Package attachment handles outgoing chat attachments: client-side
// validation before anything touches the network, and ephemeral local
// preview references for files whose server URL is not yet known.
package attachment

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MaxImageSize is the largest attachment the backend accepts.
const MaxImageSize = 1 << 20 // 1 MiB

var (
	ErrNotImage = errors.New("attachment is not an image")
	ErrTooLarge = errors.New("attachment exceeds the size limit")
)

type Kind string

const KindImage Kind = "image"

// Attachment is a validated outgoing file. At most one is attached per
// message; once the send settles it is subsumed into the message's
// user-turn image reference.
type Attachment struct {
	Kind Kind
	Name string
	MIME string
	Size int64
	Data []byte
}

// FromFile reads and validates a file for sending. Violations are
// rejected here, locally, with a message fit for direct display; the
// file never reaches the gateway.
func FromFile(path string) (*Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", path, err)
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%s is %s: %w", filepath.Base(path), mime, ErrNotImage)
	}
	if int64(len(data)) > MaxImageSize {
		return nil, fmt.Errorf("%s is %s, the limit is %s: %w",
			filepath.Base(path), FormatSize(int64(len(data))), FormatSize(MaxImageSize), ErrTooLarge)
	}

	return &Attachment{
		Kind: KindImage,
		Name: filepath.Base(path),
		MIME: mime,
		Size: int64(len(data)),
		Data: data,
	}, nil
}

// FormatSize renders a byte count for user-facing messages.
func FormatSize(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.2f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.2f MB", float64(bytes)/(1024*1024))
	}
}

// Preview is a local, ephemeral reference to an attachment, valid only
// for the lifetime of the client process. It must be released once a
// server-confirmed URL supersedes it or the send is rolled back.
type Preview struct {
	path     string
	released bool
}

// NewPreview materializes the attachment into a temp file and returns a
// handle to it.
func (a *Attachment) NewPreview() (*Preview, error) {
	f, err := os.CreateTemp("", "tutorchat-preview-*"+filepath.Ext(a.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to create preview file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(a.Data); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write preview file: %w", err)
	}
	return &Preview{path: f.Name()}, nil
}

// Ref returns the displayable reference for this preview.
func (p *Preview) Ref() string {
	return p.path
}

// Release removes the backing file. Safe to call more than once.
func (p *Preview) Release() {
	if p == nil || p.released {
		return
	}
	p.released = true
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove preview file",
			slog.String("path", p.path),
			slog.Any("error", err),
		)
	}
}
