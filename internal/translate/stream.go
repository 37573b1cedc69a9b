package translate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tidwall/gjson"
)

// DoneEvent terminates every translated stream
const DoneEvent = "data: [DONE]\n\n"

// maxEventSize bounds one upstream SSE line
const maxEventSize = 4 << 20

// ErrClientGone wraps write failures toward the caller
var ErrClientGone = errors.New("client connection closed")

// StreamTranslator re-frames native SSE events as OpenAI chunks. All chunks
// of one stream share a completion id.
type StreamTranslator struct {
	id      string
	model   string
	created int64
}

// NewStreamTranslator creates a translator for one response stream
func NewStreamTranslator(model string) *StreamTranslator {
	return &StreamTranslator{
		id:      NewCompletionID(),
		model:   model,
		created: time.Now().Unix(),
	}
}

// ID returns the completion id shared by the stream's chunks
func (t *StreamTranslator) ID() string {
	return t.id
}

// TranslateEvent converts the JSON payload of one data line into an SSE
// frame. Events that are not JSON or carry no text yield ok == false.
func (t *StreamTranslator) TranslateEvent(data []byte) (frame []byte, ok bool) {
	if !gjson.ValidBytes(data) {
		return nil, false
	}
	text, _ := candidateText(gjson.ParseBytes(data))
	if text == "" {
		return nil, false
	}

	chunk := ChatCompletionChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []Choice{{
			Index: 0,
			Delta: &ChoiceMessage{Content: text},
		}},
	}
	encoded, err := json.Marshal(chunk)
	if err != nil {
		return nil, false
	}

	frame = make([]byte, 0, len(encoded)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, encoded...)
	frame = append(frame, "\n\n"...)
	return frame, true
}

// Pipe reads native SSE from upstream and writes OpenAI frames to w as each
// event arrives, calling flush after every write. It returns the number of
// forwarded chunks. On a clean upstream end the [DONE] sentinel is written;
// on an upstream read error it is left to the caller. Write failures are
// wrapped in ErrClientGone.
func (t *StreamTranslator) Pipe(upstream io.Reader, w io.Writer, flush func()) (int, error) {
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	forwarded := 0
	for scanner.Scan() {
		data, ok := eventData(scanner.Bytes())
		if !ok {
			continue
		}
		frame, ok := t.TranslateEvent(data)
		if !ok {
			continue
		}
		if _, err := w.Write(frame); err != nil {
			return forwarded, fmt.Errorf("%w: %v", ErrClientGone, err)
		}
		if flush != nil {
			flush()
		}
		forwarded++
	}
	if err := scanner.Err(); err != nil {
		return forwarded, fmt.Errorf("failed to read upstream stream: %w", err)
	}

	if _, err := io.WriteString(w, DoneEvent); err != nil {
		return forwarded, fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	if flush != nil {
		flush()
	}
	return forwarded, nil
}

// eventData returns the payload of a "data:" line
func eventData(line []byte) ([]byte, bool) {
	data, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return nil, false
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
		return nil, false
	}
	return data, true
}
