package describe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractShapes(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		want  string
		shape Shape
	}{
		{
			name:  "chat completion",
			body:  `{"choices":[{"message":{"role":"assistant","content":"A cat on a sofa."}}]}`,
			want:  "A cat on a sofa.",
			shape: ShapeChatCompletion,
		},
		{
			name:  "chat content parts",
			body:  `{"choices":[{"message":{"content":[{"type":"text","text":"A red bicycle."}]}}]}`,
			want:  "A red bicycle.",
			shape: ShapeChatCompletion,
		},
		{
			name:  "responses output",
			body:  `{"output":[{"type":"reasoning","content":[]},{"type":"message","content":[{"type":"output_text","text":"Two dogs."}]}]}`,
			want:  "Two dogs.",
			shape: ShapeResponsesOutput,
		},
		{
			name:  "responses output skips refusal parts",
			body:  `{"output":[{"content":[{"type":"refusal","text":"no"},{"type":"text","text":"A lake."}]}]}`,
			want:  "A lake.",
			shape: ShapeResponsesOutput,
		},
		{
			name:  "output text",
			body:  `{"output_text":"A mountain at dusk."}`,
			want:  "A mountain at dusk.",
			shape: ShapeOutputText,
		},
		{
			name:  "empty choices fall through",
			body:  `{"choices":[{"message":{"content":"  "}}],"output_text":"Fallback."}`,
			want:  "Fallback.",
			shape: ShapeOutputText,
		},
		{
			name:  "chat wins over output text",
			body:  `{"choices":[{"message":{"content":"First."}}],"output_text":"Second."}`,
			want:  "First.",
			shape: ShapeChatCompletion,
		},
		{
			name:  "chat wins despite a string output",
			body:  `{"choices":[{"message":{"content":"A red apple on a table."}}],"output":"n/a"}`,
			want:  "A red apple on a table.",
			shape: ShapeChatCompletion,
		},
		{
			name:  "output text despite object choices",
			body:  `{"output_text":"A red apple on a table.","choices":{"note":"none"}}`,
			want:  "A red apple on a table.",
			shape: ShapeOutputText,
		},
		{
			name:  "output text despite string items in output",
			body:  `{"output_text":"A red apple.","output":["A red apple"]}`,
			want:  "A red apple.",
			shape: ShapeOutputText,
		},
		{
			name:  "odd output items are skipped",
			body:  `{"output":[42,{"content":"x"},{"content":[7,{"type":"output_text","text":"A boat."}]}]}`,
			want:  "A boat.",
			shape: ShapeResponsesOutput,
		},
		{
			name:  "chat parts win over numeric output text",
			body:  `{"output_text":5,"choices":[{"message":{"content":[{"type":"text","text":"A kite."}]}}]}`,
			want:  "A kite.",
			shape: ShapeChatCompletion,
		},
		{
			name:  "text is returned untrimmed",
			body:  `{"output_text":"  padded  "}`,
			want:  "  padded  ",
			shape: ShapeOutputText,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ex, err := Extract([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, ex.Description)
			assert.Equal(t, tc.shape, ex.Shape)
		})
	}
}

func TestExtractEmpty(t *testing.T) {
	for _, body := range []string{
		`{}`,
		`{"choices":[]}`,
		`{"output":[{"content":[{"type":"output_text","text":""}]}]}`,
		`null`,
		`[1,2]`,
		`"just a string"`,
		`{"output_text":12,"choices":"none","output":{}}`,
	} {
		_, err := Extract([]byte(body))
		require.Error(t, err, body)
		assert.Equal(t, KindEmptyResponse, KindOf(err), body)
		assert.Equal(t, body, RawPayload(err))
	}
}

func TestExtractInvalidJSON(t *testing.T) {
	_, err := Extract([]byte("<html>bad gateway</html>"))
	require.Error(t, err)
	assert.Equal(t, KindUpstreamParse, KindOf(err))
	assert.Equal(t, "<html>bad gateway</html>", RawPayload(err))
}
