package translate

import "strings"

const (
	roleUser   = "user"
	roleModel  = "model"
	roleSystem = "system"
)

// GeminiRequest is the cloudcode envelope around a generateContent request
type GeminiRequest struct {
	Model   string          `json:"model"`
	Project string          `json:"project"`
	Request GenerateRequest `json:"request"`
}

// GenerateRequest is the native request body
type GenerateRequest struct {
	Contents         []Turn           `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
}

// Turn is one native conversation turn
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is a text or inline-data part of a turn
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is an inline base64 blob
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GenerationConfig carries only the parameters the caller set
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// BuildGeminiRequest converts a chat request into the native envelope. The
// display prefix is stripped from the model id.
func BuildGeminiRequest(req *ChatRequest, project string) *GeminiRequest {
	return &GeminiRequest{
		Model:   StripModelPrefix(req.Model),
		Project: project,
		Request: GenerateRequest{
			Contents:         ConvertMessages(req.Messages),
			GenerationConfig: buildGenerationConfig(req),
		},
	}
}

// ConvertMessages maps chat messages to native turns. Leading system
// messages are merged into the first user turn as "system\n\nuser"; a
// system message after the conversation has started is dropped.
func ConvertMessages(messages []Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	var system []string
	started := false

	for _, msg := range messages {
		if msg.Role == roleSystem {
			if !started {
				if text := msg.Content.PlainText(); text != "" {
					system = append(system, text)
				}
			}
			continue
		}
		started = true

		role := roleModel
		if msg.Role == roleUser {
			role = roleUser
		}

		parts := convertContent(msg.Content)
		if role == roleUser && len(system) > 0 {
			parts = prependText(parts, strings.Join(system, "\n\n"))
			system = nil
		}
		if len(parts) == 0 {
			continue
		}
		turns = append(turns, Turn{Role: role, Parts: parts})
	}

	// no user turn took the instructions; keep them as the opening turn
	if len(system) > 0 {
		opening := Turn{Role: roleUser, Parts: []Part{{Text: strings.Join(system, "\n\n")}}}
		turns = append([]Turn{opening}, turns...)
	}

	return turns
}

func convertContent(c Content) []Part {
	if !c.Multimodal {
		if c.Text == "" {
			return nil
		}
		return []Part{{Text: c.Text}}
	}

	parts := make([]Part, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			if p.Text != "" {
				parts = append(parts, Part{Text: p.Text})
			}
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if blob, ok := parseDataURI(p.ImageURL.URL); ok {
				parts = append(parts, Part{InlineData: blob})
			}
		}
	}
	return parts
}

// prependText merges system text into the first text part, or adds a
// leading text part when there is none
func prependText(parts []Part, text string) []Part {
	for i := range parts {
		if parts[i].InlineData == nil {
			parts[i].Text = text + "\n\n" + parts[i].Text
			return parts
		}
	}
	return append([]Part{{Text: text}}, parts...)
}

// parseDataURI splits data:<mime>;base64,<payload>
func parseDataURI(uri string) (*InlineData, bool) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, false
	}
	mime, payload, ok := strings.Cut(rest, ";base64,")
	if !ok || mime == "" || payload == "" {
		return nil, false
	}
	return &InlineData{MimeType: mime, Data: payload}, true
}

func buildGenerationConfig(req *ChatRequest) GenerationConfig {
	cfg := GenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
		TopP:            req.TopP,
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = []string(req.Stop)
	}
	return cfg
}
