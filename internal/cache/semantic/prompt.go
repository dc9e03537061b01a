package semantic

import (
	"strings"

	"github.com/goccy/go-json"
)

// ExtractText pulls the plain-text content out of a chat message's raw
// content field, handling both the plain-string and multi-part shapes the
// OpenAI wire format allows. Non-text parts (images, audio) are skipped
// since the embedding model only accepts text.
func ExtractText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}

	var strContent string
	if err := json.Unmarshal(content, &strContent); err == nil {
		return strContent
	}

	var parts []contentPart
	if err := json.Unmarshal(content, &parts); err == nil {
		var sb strings.Builder
		for _, part := range parts {
			if part.Type == "text" && part.Text != "" {
				if sb.Len() > 0 {
					sb.WriteString(" ")
				}
				sb.WriteString(part.Text)
			}
		}
		return sb.String()
	}

	return string(content)
}

// contentPart represents a part of multimodal content.
type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// PromptPreview returns a short, log-safe preview of a prompt for
// structured logging. Full prompts carry request content and can be large.
func PromptPreview(prompt string) string {
	const maxLen = 64
	if len(prompt) <= maxLen {
		return prompt
	}
	return prompt[:maxLen] + "..."
}
