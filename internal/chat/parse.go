package chat

import (
	"regexp"
	"strings"
)

// The backend echoes an attached image back inline in the user text as a
// markdown image token. The token has to be split back out before display.
var imageTokenRe = regexp.MustCompile(`!\[.*?\]\((.*?)\)`)

// ParseUserInput splits backend-echoed user text into its plain text
// content and the embedded image URL, if any. Only the first markdown
// image token is recognized; anything after it is left in the text as-is.
// Calling it on already-parsed content is a no-op.
func ParseUserInput(raw string) (content, imageURL string) {
	m := imageTokenRe.FindStringSubmatchIndex(raw)
	if m == nil {
		return raw, ""
	}

	imageURL = raw[m[2]:m[3]]
	before := strings.TrimSpace(raw[:m[0]])
	after := strings.TrimSpace(raw[m[1]:])
	switch {
	case before == "":
		content = after
	case after == "":
		content = before
	default:
		content = before + " " + after
	}
	return content, imageURL
}
