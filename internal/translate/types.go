// Package translate converts between the OpenAI chat-completion wire shape
// and the native Gemini cloudcode shape, for whole responses and for SSE
// streams.
package translate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChatRequest is the subset of an OpenAI chat-completion request the
// gateway understands. Optional generation parameters stay nil when the
// caller did not send them.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []Message     `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        StopSequences `json:"stop,omitempty"`
}

// Message is one chat message
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content is either a bare string or a list of typed parts
type Content struct {
	Text  string
	Parts []ContentPart
	// Multimodal is set when the caller sent a part list
	Multimodal bool
}

// ContentPart is one element of a multimodal message
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference; only data URIs are forwarded
type ImageURL struct {
	URL string `json:"url"`
}

// UnmarshalJSON accepts a string, a part list or null
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*c = Content{}
		return nil
	case strings.HasPrefix(trimmed, "["):
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("invalid content parts: %w", err)
		}
		*c = Content{Parts: parts, Multimodal: true}
		return nil
	default:
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("content must be a string or a list of parts: %w", err)
		}
		*c = Content{Text: text}
		return nil
	}
}

// MarshalJSON writes the content back in the shape it arrived in
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Multimodal {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// PlainText concatenates the text of the content
func (c Content) PlainText() string {
	if !c.Multimodal {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// StopSequences accepts both "stop": "x" and "stop": ["x", "y"]
type StopSequences []string

// UnmarshalJSON accepts a single string or a list
func (s *StopSequences) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("invalid stop list: %w", err)
		}
		*s = list
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return fmt.Errorf("stop must be a string or a list: %w", err)
	}
	*s = StopSequences{one}
	return nil
}

// ChatCompletion is a non-streaming OpenAI response
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion alternative
type Choice struct {
	Index        int            `json:"index"`
	Message      *ChoiceMessage `json:"message,omitempty"`
	Delta        *ChoiceMessage `json:"delta,omitempty"`
	FinishReason *string        `json:"finish_reason"`
}

// ChoiceMessage is the assistant message or stream delta of a choice
type ChoiceMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// Usage is always zero; token accounting is not reproduced
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one streamed OpenAI event
type ChatCompletionChunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}
