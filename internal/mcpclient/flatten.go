package mcpclient

import (
	"fmt"
	"strings"
)

// ContentBlock is one typed block in a tools/call result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// FlattenContent concatenates the text of text blocks in order, one per
// line. Non-text blocks are summarized in place so the caller knows
// something was dropped.
func FlattenContent(blocks []ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("[non-text: %s]", b.Type))
	}
	return strings.Join(parts, "\n")
}
