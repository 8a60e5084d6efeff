package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseUserInput(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		content string
		image   string
	}{
		{
			name:    "no token",
			raw:     "what is photosynthesis?",
			content: "what is photosynthesis?",
			image:   "",
		},
		{
			name:    "token in the middle",
			raw:     "hello ![x](http://a/b.png) world",
			content: "hello world",
			image:   "http://a/b.png",
		},
		{
			name:    "token only",
			raw:     "![homework](http://files/hw.png)",
			content: "",
			image:   "http://files/hw.png",
		},
		{
			name:    "leading token",
			raw:     "![pic](http://a/b.png) can you solve this?",
			content: "can you solve this?",
			image:   "http://a/b.png",
		},
		{
			name:    "trailing token",
			raw:     "can you solve this? ![pic](http://a/b.png)",
			content: "can you solve this?",
			image:   "http://a/b.png",
		},
		{
			name:    "only first token is extracted",
			raw:     "a ![1](http://u/1) b ![2](http://u/2)",
			content: "a b ![2](http://u/2)",
			image:   "http://u/1",
		},
		{
			name:    "empty text",
			raw:     "",
			content: "",
			image:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, image := ParseUserInput(tt.raw)
			assert.Equal(t, tt.content, content)
			assert.Equal(t, tt.image, image)
		})
	}
}

func TestParseUserInputIdempotent(t *testing.T) {
	content, image := ParseUserInput("hello ![x](http://a/b.png) world")
	assert.Equal(t, "hello world", content)
	assert.Equal(t, "http://a/b.png", image)

	again, imageAgain := ParseUserInput(content)
	assert.Equal(t, content, again)
	assert.Empty(t, imageAgain)
}
