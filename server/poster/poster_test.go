package poster

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoster(t *testing.T, url string, maxRetries int) *Poster {
	t.Helper()
	p, err := New(url, Options{
		Username:        "raid",
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	return p
}

func TestPost_Success(t *testing.T) {
	var received model.IncomingWebhookRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPoster(t, server.URL, 3)
	err := p.Post(context.Background(), Message{Text: "🔴🚀 08:30 Повітряна тривога в Київ."})
	require.NoError(t, err)

	assert.Equal(t, "🔴🚀 08:30 Повітряна тривога в Київ.", received.Text)
	assert.Equal(t, "raid", received.Username)
	assert.Empty(t, received.Attachments)
}

func TestPost_Attachment(t *testing.T) {
	var received model.IncomingWebhookRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer server.Close()

	p := newTestPoster(t, server.URL, 0)
	err := p.Post(context.Background(), Message{
		Text:       "message",
		Attachment: &model.SlackAttachment{Text: "message", Fallback: "message", Color: "#FF0000"},
	})
	require.NoError(t, err)

	assert.Empty(t, received.Text)
	require.Len(t, received.Attachments, 1)
	assert.Equal(t, "#FF0000", received.Attachments[0].Color)
	assert.Equal(t, "message", received.Attachments[0].Text)
}

func TestPost_Body(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		msg      Message
		expected string
	}{
		{
			name:     "text only",
			msg:      Message{Text: "hi"},
			expected: `{"text":"hi"}`,
		},
		{
			name:     "username and channel",
			opts:     Options{Username: "raid", ChannelName: "alerts"},
			msg:      Message{Text: "hi"},
			expected: `{"text":"hi","username":"raid","channel":"alerts"}`,
		},
		{
			name: "attachment",
			msg: Message{
				Text:       "hi",
				Attachment: &model.SlackAttachment{Fallback: "hi", Text: "hi", Color: "#FF0000", Footer: "#kyiv"},
			},
			expected: `{"attachments":[{"fallback":"hi","color":"#FF0000","text":"hi","footer":"#kyiv"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body []byte
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ = io.ReadAll(r.Body)
			}))
			defer server.Close()

			p, err := New(server.URL, tt.opts)
			require.NoError(t, err)
			require.NoError(t, p.Post(context.Background(), tt.msg))

			assert.JSONEq(t, tt.expected, string(body))
		})
	}
}

func TestPost_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPoster(t, server.URL, 3)
	require.NoError(t, p.Post(context.Background(), Message{Text: "x"}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPost_RetriesRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPoster(t, server.URL, 1)
	require.NoError(t, p.Post(context.Background(), Message{Text: "x"}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPost_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer server.Close()

	p := newTestPoster(t, server.URL, 2)
	err := p.Post(context.Background(), Message{Text: "x"})
	require.Error(t, err)

	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	assert.Equal(t, http.StatusServiceUnavailable, deliveryErr.StatusCode)
	assert.Equal(t, 3, deliveryErr.Attempts)
	assert.Equal(t, "maintenance", deliveryErr.Body)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPost_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no_service"))
	}))
	defer server.Close()

	p := newTestPoster(t, server.URL, 3)
	err := p.Post(context.Background(), Message{Text: "x"})
	require.Error(t, err)

	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	assert.Equal(t, http.StatusNotFound, deliveryErr.StatusCode)
	assert.Equal(t, 1, deliveryErr.Attempts)
	assert.Contains(t, err.Error(), "HTTP 404 no_service")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPost_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	p := newTestPoster(t, url, 1)
	err := p.Post(context.Background(), Message{Text: "x"})
	require.Error(t, err)

	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	assert.Equal(t, 0, deliveryErr.StatusCode)
	assert.Equal(t, 2, deliveryErr.Attempts)
	assert.Contains(t, err.Error(), "webhook request failed")
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", Options{})
	require.Error(t, err)

	_, err = New("http://localhost", Options{MaxRetries: -1})
	require.Error(t, err)
}

func TestRetryAfterBackOff(t *testing.T) {
	b := &retryAfterBackOff{BackOff: backoff.NewConstantBackOff(time.Second)}
	assert.Equal(t, time.Second, b.NextBackOff())

	b.retryAfter = 5 * time.Second
	assert.Equal(t, 5*time.Second, b.NextBackOff())

	b.retryAfter = 10 * time.Millisecond
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}
