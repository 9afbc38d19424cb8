package translator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/mattermost-raid-relay/server/i18n"
)

func newGoogleBackend(t *testing.T, handler http.HandlerFunc) Backend {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	backend, err := NewGoogleFactory(server.URL, server.Client())(i18n.Ukrainian, i18n.English)
	require.NoError(t, err)
	return backend
}

func TestGoogleBackend_Translate_Success(t *testing.T) {
	backend := newGoogleBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/translate_a/single", r.URL.Path)
		assert.Equal(t, "gtx", r.URL.Query().Get("client"))
		assert.Equal(t, "uk", r.URL.Query().Get("sl"))
		assert.Equal(t, "en", r.URL.Query().Get("tl"))
		assert.Equal(t, "Київська область", r.URL.Query().Get("q"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[[["Kyiv ","Київська ",null,null,10],["region","область",null,null,10]],null,"uk"]`))
	})

	translated, err := backend.Translate(context.Background(), "Київська область")
	require.NoError(t, err)
	assert.Equal(t, "Kyiv region", translated)
}

func TestGoogleBackend_Translate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		errorMsg string
	}{
		{"rate limited", http.StatusTooManyRequests, "", "HTTP 429"},
		{"server error", http.StatusInternalServerError, "", "unexpected HTTP status 500"},
		{"not json", http.StatusOK, "<html>", "failed to parse translation response"},
		{"empty array", http.StatusOK, "[]", "empty translation response"},
		{"wrong layout", http.StatusOK, `["text"]`, "unexpected translation response layout"},
		{"no segments", http.StatusOK, `[[]]`, "contained no text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newGoogleBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := backend.Translate(context.Background(), "Одеса")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestGoogleBackend_Translate_BlankTextSkipsRequest(t *testing.T) {
	called := false
	backend := newGoogleBackend(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	translated, err := backend.Translate(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, "  ", translated)
	assert.False(t, called)
}

func TestNewGoogleFactory_RequiresLocales(t *testing.T) {
	_, err := NewGoogleFactory("", nil)("", i18n.English)
	require.Error(t, err)
}
