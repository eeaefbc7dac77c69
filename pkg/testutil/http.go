package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Context returns a context cancelled when the test ends or after 30s
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MakeJSONRequest builds a request whose body is the JSON encoding of body.
// A nil body sends no content and no Content-Type.
func MakeJSONRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	if body == nil {
		return httptest.NewRequest(method, target, nil)
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err, "marshal request body")
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DecodeJSON decodes r into a fresh T, failing the test on malformed input
func DecodeJSON[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(r).Decode(&out), "decode JSON body")
	return out
}

// AssertJSONResponse checks the status, the content type and, when want is
// non-nil, that the body is JSON-equal to want's encoding.
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, status int, want interface{}) {
	t.Helper()
	assert.Equal(t, status, w.Code, "status code")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "content type")
	if want == nil {
		return
	}
	raw, err := json.Marshal(want)
	require.NoError(t, err, "marshal expected body")
	assert.JSONEq(t, string(raw), w.Body.String(), "response body")
}

// AssertErrorResponse checks the status and that the {"error": ...} message contains msg
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	assert.Equal(t, status, w.Code, "status code")
	body := DecodeJSON[map[string]interface{}](t, w.Body)
	require.Contains(t, body, "error")
	if msg != "" {
		assert.Contains(t, body["error"], msg, "error message")
	}
}
