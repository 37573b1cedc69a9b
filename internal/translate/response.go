package translate

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ErrMalformedResponse is returned when the upstream body is not JSON
var ErrMalformedResponse = errors.New("malformed upstream response")

const finishStop = "stop"

// NewCompletionID returns a synthetic OpenAI completion id
func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// candidateText joins the text parts of the first candidate. Cloudcode
// wraps the payload in a "response" object; plain Gemini does not.
func candidateText(event gjson.Result) (text string, hasCandidate bool) {
	root := event
	if wrapped := event.Get("response"); wrapped.IsObject() {
		root = wrapped
	}

	first := root.Get("candidates.0")
	if !first.Exists() {
		return "", false
	}

	var b strings.Builder
	first.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		b.WriteString(part.Get("text").String())
		return true
	})
	return b.String(), true
}

// ConvertResponse turns a native generateContent body into a single
// assistant completion with zeroed usage
func ConvertResponse(body []byte, model string) (*ChatCompletion, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedResponse
	}

	text, _ := candidateText(gjson.ParseBytes(body))
	finish := finishStop

	return &ChatCompletion{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      &ChoiceMessage{Role: "assistant", Content: text},
			FinishReason: &finish,
		}},
	}, nil
}
