package describe

import "fmt"

const (
	SystemPrompt      = "You are a helpful assistant that describes images."
	InstructionPrompt = "Describe this image in detail"

	FlavorChat      = "chat"
	FlavorResponses = "responses"

	imageDetail = "high"
)

// PayloadOptions are operator-level knobs; callers never set them per request.
type PayloadOptions struct {
	Flavor      string
	Model       string
	Temperature float64
	MaxTokens   int
}

type chatImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []chatPart
}

// ChatRequest is the chat/completions body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type responsesPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type responsesInput struct {
	Role    string          `json:"role"`
	Content []responsesPart `json:"content"`
}

// ResponsesRequest is the responses API body.
type ResponsesRequest struct {
	Model           string           `json:"model"`
	Instructions    string           `json:"instructions"`
	Input           []responsesInput `json:"input"`
	Temperature     float64          `json:"temperature"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
}

// BuildPayload returns the provider-specific request body for img.
func BuildPayload(img Image, opts PayloadOptions) (any, error) {
	switch opts.Flavor {
	case FlavorChat, "":
		return ChatRequest{
			Model: opts.Model,
			Messages: []chatMessage{
				{Role: "system", Content: SystemPrompt},
				{Role: "user", Content: []chatPart{
					{Type: "image_url", ImageURL: &chatImageURL{URL: img.DataURL(), Detail: imageDetail}},
					{Type: "text", Text: InstructionPrompt},
				}},
			},
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		}, nil
	case FlavorResponses:
		return ResponsesRequest{
			Model:        opts.Model,
			Instructions: SystemPrompt,
			Input: []responsesInput{{
				Role: "user",
				Content: []responsesPart{
					{Type: "input_image", ImageURL: img.DataURL(), Detail: imageDetail},
					{Type: "input_text", Text: InstructionPrompt},
				},
			}},
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		}, nil
	default:
		return nil, fmt.Errorf("unknown upstream API flavor %q", opts.Flavor)
	}
}
