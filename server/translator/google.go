package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-raid-relay/server/i18n"
)

// DefaultGoogleURL is the public Google Translate endpoint used by the gtx web client.
const DefaultGoogleURL = "https://translate.googleapis.com"

// GoogleBackend translates text with the Google Translate web endpoint.
type GoogleBackend struct {
	baseURL    string
	source     i18n.Locale
	target     i18n.Locale
	httpClient *http.Client
}

// NewGoogleFactory returns a BackendFactory producing GoogleBackend instances that share client.
func NewGoogleFactory(baseURL string, client *http.Client) BackendFactory {
	if baseURL == "" {
		baseURL = DefaultGoogleURL
	}
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return func(source, target i18n.Locale) (Backend, error) {
		if source == "" || target == "" {
			return nil, errors.New("source and target locales are required")
		}

		return &GoogleBackend{
			baseURL:    strings.TrimRight(baseURL, "/"),
			source:     source,
			target:     target,
			httpClient: client,
		}, nil
	}
}

// Translate sends text to the translation endpoint and joins the translated segments.
func (g *GoogleBackend) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	query := url.Values{}
	query.Set("client", "gtx")
	query.Set("sl", string(g.source))
	query.Set("tl", string(g.target))
	query.Set("dt", "t")
	query.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/translate_a/single?"+query.Encode(), nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to create translation request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "translation request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return "", fmt.Errorf("rate limit exceeded (HTTP 429)")
	default:
		return "", fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}

	// The response is a positional array; element 0 lists [translated, original, ...] segments.
	var payload []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errors.Wrap(err, "failed to parse translation response")
	}
	if len(payload) == 0 {
		return "", errors.New("empty translation response")
	}

	var segments [][]any
	if err := json.Unmarshal(payload[0], &segments); err != nil {
		return "", errors.Wrap(err, "unexpected translation response layout")
	}

	var translated strings.Builder
	for _, segment := range segments {
		if len(segment) == 0 {
			continue
		}
		if part, ok := segment[0].(string); ok {
			translated.WriteString(part)
		}
	}

	if translated.Len() == 0 {
		return "", errors.New("translation response contained no text")
	}

	return translated.String(), nil
}
