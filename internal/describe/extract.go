package describe

import (
	"encoding/json"
	"strings"
)

// Shape names the upstream response family a description came from.
type Shape string

const (
	ShapeChatCompletion  Shape = "chat_completion"
	ShapeResponsesOutput Shape = "responses_output"
	ShapeOutputText      Shape = "output_text"
)

// fields holds the top-level keys of an upstream body. Each extractor
// decodes only the key it reads, so an unexpected type elsewhere does not
// hide a usable description.
type fields map[string]json.RawMessage

// extractor returns the description and true when its shape matches.
type extractor struct {
	shape Shape
	fn    func(f fields) (string, bool)
}

// extractors are tried in order; the first non-empty match wins.
var extractors = []extractor{
	{ShapeChatCompletion, fromChoices},
	{ShapeResponsesOutput, fromOutput},
	{ShapeOutputText, fromOutputText},
}

// Extraction is a tagged extractor result.
type Extraction struct {
	Description string
	Shape       Shape
}

// Extract pulls the description out of a parsed upstream body.
// A body that is not JSON is an UpstreamParseError; a JSON body with no
// usable text is an EmptyResponseError.
func Extract(raw []byte) (Extraction, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil && !json.Valid(raw) {
		return Extraction{}, &UpstreamParseError{Body: truncate(string(raw), 2048), Err: err}
	}
	// valid JSON that is not an object leaves f empty and matches nothing
	for _, ex := range extractors {
		if s, ok := ex.fn(f); ok {
			return Extraction{Description: s, Shape: ex.shape}, nil
		}
	}
	return Extraction{}, &EmptyResponseError{Body: truncate(string(raw), 2048)}
}

// textPart is a typed content part shared by both API families.
type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (p textPart) usable() bool {
	switch p.Type {
	case "text", "output_text", "":
		return nonEmpty(p.Text)
	}
	return false
}

func fromChoices(f fields) (string, bool) {
	var choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(f["choices"], &choices); err != nil || len(choices) == 0 {
		return "", false
	}
	content := choices[0].Message.Content
	if len(content) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s, nonEmpty(s)
	}
	// Some providers return content as an array of typed parts.
	var parts []json.RawMessage
	if err := json.Unmarshal(content, &parts); err != nil {
		return "", false
	}
	for _, raw := range parts {
		var p textPart
		if json.Unmarshal(raw, &p) == nil && p.usable() {
			return p.Text, true
		}
	}
	return "", false
}

func fromOutput(f fields) (string, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(f["output"], &items); err != nil {
		return "", false
	}
	for _, item := range items {
		var o struct {
			Content []json.RawMessage `json:"content"`
		}
		if json.Unmarshal(item, &o) != nil {
			continue
		}
		for _, raw := range o.Content {
			var p textPart
			// Both output_text and text are seen in practice
			if json.Unmarshal(raw, &p) == nil && p.usable() {
				return p.Text, true
			}
		}
	}
	return "", false
}

func fromOutputText(f fields) (string, bool) {
	var s string
	if err := json.Unmarshal(f["output_text"], &s); err != nil {
		return "", false
	}
	return s, nonEmpty(s)
}

func nonEmpty(s string) bool { return strings.TrimSpace(s) != "" }
