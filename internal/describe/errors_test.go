package describe

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfAndStatus(t *testing.T) {
	cases := []struct {
		err    error
		kind   Kind
		status int
	}{
		{&ValidationError{Message: "x"}, KindValidation, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", &ValidationError{Message: "x"}), KindValidation, http.StatusBadRequest},
		{&UpstreamHTTPError{StatusCode: 502, Body: "bad"}, KindUpstreamHTTP, http.StatusInternalServerError},
		{&UpstreamHTTPError{Err: errors.New("dial tcp: refused")}, KindUpstreamHTTP, http.StatusInternalServerError},
		{&UpstreamParseError{Body: "<", Err: errors.New("bad")}, KindUpstreamParse, http.StatusInternalServerError},
		{&EmptyResponseError{Body: "{}"}, KindEmptyResponse, http.StatusInternalServerError},
		{errors.New("boom"), KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, KindOf(tc.err), tc.err.Error())
		assert.Equal(t, tc.status, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, MsgImageMissing, PublicMessage(&ValidationError{Message: MsgImageMissing}))
	assert.Equal(t, "Upstream API failed", PublicMessage(&UpstreamHTTPError{StatusCode: 500}))
	assert.Equal(t, "Invalid response from upstream API", PublicMessage(&UpstreamParseError{}))
	assert.Equal(t, "Internal server error", PublicMessage(errors.New("nil pointer")))
}

func TestRawPayload(t *testing.T) {
	assert.Equal(t, "oops", RawPayload(&UpstreamHTTPError{StatusCode: 500, Body: "oops"}))
	assert.Equal(t, "", RawPayload(&ValidationError{Message: "x"}))
	assert.Equal(t, "", RawPayload(errors.New("boom")))
}

func TestUpstreamHTTPErrorMessage(t *testing.T) {
	err := &UpstreamHTTPError{StatusCode: 500, Body: strings.Repeat("a", 500)}
	assert.Contains(t, err.Error(), "HTTP 500")
	assert.Less(t, len(err.Error()), 300)

	cause := errors.New("connection reset")
	transport := &UpstreamHTTPError{Err: cause}
	assert.ErrorIs(t, transport, cause)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&UpstreamHTTPError{Err: errors.New("eof")}))
	assert.True(t, isTransient(&UpstreamHTTPError{StatusCode: 429}))
	assert.True(t, isTransient(&UpstreamHTTPError{StatusCode: 503}))
	assert.False(t, isTransient(&UpstreamHTTPError{StatusCode: 400}))
	assert.False(t, isTransient(&UpstreamParseError{}))
	assert.False(t, isTransient(nil))
}
