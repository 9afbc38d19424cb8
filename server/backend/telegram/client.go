package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// allowedUpdates restricts getUpdates to the update kinds that can carry notifications.
const allowedUpdates = `["channel_post","message"]`

// requestTimeoutMargin is added to the long poll timeout for the HTTP client timeout.
const requestTimeoutMargin = 30 * time.Second

// APIClient handles communication with the Telegram Bot API for fetching updates
// using offset-based confirmation.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewAPIClient creates a new API client. longPoll is the longest a single request may wait.
func NewAPIClient(baseURL, token string, longPoll time.Duration, logger *zap.SugaredLogger) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: longPoll + requestTimeoutMargin,
		},
		logger: logger,
	}
}

// FetchUpdates calls getUpdates. Every update with an id below offset is confirmed and will not
// be returned again. timeout is the long poll duration; zero returns immediately.
func (c *APIClient) FetchUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	query := url.Values{}
	if offset != 0 {
		query.Set("offset", strconv.FormatInt(offset, 10))
	}
	query.Set("timeout", strconv.Itoa(int(timeout/time.Second)))
	query.Set("allowed_updates", allowedUpdates)

	// The token is part of the path; never let it reach an error message.
	updatesURL := fmt.Sprintf("%s/bot%s/getUpdates?%s", c.baseURL, c.token, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, updatesURL, nil)
	if err != nil {
		return nil, errors.New("failed to create updates request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(redact(err), "updates request failed")
	}
	defer resp.Body.Close()

	var envelope UpdatesResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)

	switch {
	case resp.StatusCode == http.StatusOK && decodeErr == nil && envelope.OK:
		// Success
	case resp.StatusCode == http.StatusOK && decodeErr != nil:
		return nil, errors.Wrap(decodeErr, "failed to parse updates response")
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("authentication error (HTTP 401): %s", describe(envelope, "bot token invalid or revoked"))
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("conflict (HTTP 409): %s", describe(envelope, "another poller or a webhook is consuming updates"))
	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr := apiError(resp.StatusCode, envelope)
		return nil, fmt.Errorf("rate limit exceeded (HTTP 429): retry after %ds: %w", apiErr.RetryAfter, apiErr)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("server error (HTTP %d): %s", resp.StatusCode, describe(envelope, "Telegram API internal error"))
	default:
		return nil, apiError(resp.StatusCode, envelope)
	}

	c.logger.Debugw("Successfully fetched updates",
		"updateCount", len(envelope.Result),
		"offset", offset)

	return envelope.Result, nil
}

func apiError(status int, envelope UpdatesResponse) *APIError {
	apiErr := &APIError{
		Code:        status,
		Description: envelope.Description,
	}
	if envelope.ErrorCode != 0 {
		apiErr.Code = envelope.ErrorCode
	}
	if envelope.Parameters != nil {
		apiErr.RetryAfter = envelope.Parameters.RetryAfter
	}
	return apiErr
}

func describe(envelope UpdatesResponse, fallback string) string {
	if envelope.Description != "" {
		return envelope.Description
	}
	return fallback
}

// redact strips the request URL, which embeds the bot token, from transport errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
