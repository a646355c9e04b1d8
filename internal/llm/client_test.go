package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts.BaseURL = server.URL + "/v1/"
	if opts.APIKey == "" {
		opts.APIKey = "test-key"
	}
	return NewClient(opts)
}

func TestComplete_Success(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"[{\"reply_id\":\"1\"}]"}}]}`))
	}, Options{Temperature: 0.7})

	completion, err := client.Complete(context.Background(), "gpt-test", "hello")
	require.NoError(t, err)

	assert.Equal(t, `[{"reply_id":"1"}]`, completion.Content)
	assert.Equal(t, http.StatusOK, completion.HTTPStatus)
	assert.Contains(t, completion.Raw, "choices")

	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, 0.7, got.Temperature)
	assert.Equal(t, 0, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, chatMessage{Role: "user", Content: "hello"}, got.Messages[0])
}

func TestComplete_MaxTokensSent(t *testing.T) {
	var body map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}, Options{MaxTokens: 256})

	_, err := client.Complete(context.Background(), "m", "p")
	require.NoError(t, err)
	assert.Equal(t, float64(256), body["max_tokens"])
}

func TestComplete_EmptyContentIsReturned(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":""}}]}`))
	}, Options{})

	completion, err := client.Complete(context.Background(), "m", "p")
	require.NoError(t, err)
	assert.Equal(t, "", completion.Content)
}

func TestComplete_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind ErrorKind
		wantType string
		wantMsg  string
	}{
		{"unauthorized", 401, `{"error":{"type":"authentication_error","message":"bad key"}}`, KindAuthentication, "authentication_error", "bad key"},
		{"forbidden", 403, `{"error":{"type":"permission_error","message":"no"}}`, KindAuthentication, "permission_error", "no"},
		{"rate limited", 429, `{"error":{"type":"rate_limit_error","message":"slow down"}}`, KindRateLimited, "rate_limit_error", "slow down"},
		{"bad request", 400, `{"error":{"type":"invalid_request_error","message":"bad"}}`, KindInvalidRequest, "invalid_request_error", "bad"},
		{"too large", 413, `{"error":{"message":"too big"}}`, KindInvalidRequest, "unknown_error", "too big"},
		{"not found", 404, `not json`, KindInvalidRequest, "unknown_error", "not json"},
		{"server error", 500, `{"error":{"type":"server_error","message":"boom"}}`, KindServerError, "server_error", "boom"},
		{"unavailable", 503, ``, KindServerError, "unknown_error", "HTTP 503"},
		{"ok without choices", 200, `{"choices":[]}`, KindParseError, "", "response has no message content"},
		{"ok but garbage", 200, `<html>`, KindParseError, "", "response is not valid JSON"},
		{"ok with error body", 200, `{"error":{"type":"insufficient_quota","message":"quota"}}`, KindRateLimited, "insufficient_quota", "quota"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, Options{})

			_, err := client.Complete(context.Background(), "m", "p")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.wantKind, apiErr.Kind)
			assert.Equal(t, tt.status, apiErr.HTTPStatus)
			assert.Equal(t, tt.wantType, apiErr.Type)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Equal(t, tt.status, StatusOf(err))
		})
	}
}

func TestComplete_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(Options{BaseURL: url, APIKey: "k"})
	_, err := client.Complete(context.Background(), "m", "p")
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, 0, StatusOf(err))
}

func TestComplete_SingleAttempt(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Options{})

	_, err := client.Complete(context.Background(), "m", "p")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestComplete_RateLimiter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}, Options{RequestsPerSecond: 20})

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := client.Complete(context.Background(), "m", "p")
		require.NoError(t, err)
	}
	// burst 20 at 20 rps lets five calls through immediately
	assert.Less(t, time.Since(start), time.Second)

	slow := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}, Options{RequestsPerSecond: 2})

	start = time.Now()
	for i := 0; i < 3; i++ {
		_, err := slow.Complete(context.Background(), "m", "p")
		require.NoError(t, err)
	}
	// burst 2: the third call waits for a new token
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestComplete_LimiterHonoursContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}, Options{RequestsPerSecond: 0.01})

	_, err := client.Complete(context.Background(), "m", "p")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Complete(ctx, "m", "p")
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestAcquireAndSend(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}, Options{RequestsPerSecond: 0.01})

	require.NoError(t, client.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	// Send does not wait for a token
	completion, err := client.Send(context.Background(), "m", "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", completion.Content)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	assert.NoError(t, NewClient(Options{}).Acquire(ctx))
}

func TestListModels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/models", r.URL.Path)
		fmt.Fprint(w, `{"data":[{"id":"z-model"},{"id":"a-model","owned_by":"x"},{"id":"gone","available":false}]}`)
	}, Options{})

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Model{{ID: "a-model", OwnedBy: "x"}, {ID: "z-model"}}, models)
	assert.NoError(t, client.ValidateAPIKey(context.Background()))
}

func TestValidateAPIKey_Rejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"invalid_api_key","message":"nope"}}`)
	}, Options{})

	err := client.ValidateAPIKey(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindAuthentication, KindOf(err))
	assert.Contains(t, err.Error(), StatusDescription(http.StatusUnauthorized))
}

func TestKindOf_ForeignError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("x")))
	wrapped := fmt.Errorf("row 3: %w", &APIError{Kind: KindRateLimited, HTTPStatus: 429})
	assert.Equal(t, KindRateLimited, KindOf(wrapped))
	assert.Equal(t, 429, StatusOf(wrapped))
	assert.Equal(t, "unknown error", StatusDescription(418))
}
