package poster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/pkg/errors"
)

const (
	// DefaultMaxRetries is how many times a failed delivery is retried.
	DefaultMaxRetries = 3

	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 30 * time.Second
	defaultTimeout         = 30 * time.Second

	// maxErrorBody caps how much of an error response is kept for the DeliveryError.
	maxErrorBody = 512
)

// DeliveryError reports a message that did not reach the webhook.
type DeliveryError struct {
	StatusCode int // 0 when the request never got a response
	Attempts   int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook delivery failed after %d attempt(s): HTTP %d %s", e.Attempts, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("webhook delivery failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Message is one formatted alert ready for delivery.
type Message struct {
	Text       string
	Attachment *model.SlackAttachment
}

// Options tune a Poster. Zero values select defaults.
type Options struct {
	Username    string
	ChannelName string
	MaxRetries  int
	// InitialInterval is the first retry delay; later delays grow exponentially.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	HTTPClient      *http.Client
}

// Poster delivers messages to an incoming webhook.
// It holds only immutable configuration and is safe for concurrent use.
type Poster struct {
	url        string
	opts       Options
	httpClient *http.Client
}

// New creates a new Poster instance.
func New(webhookURL string, opts Options) (*Poster, error) {
	if webhookURL == "" {
		return nil, errors.New("webhook URL is required")
	}
	if opts.MaxRetries < 0 {
		return nil, errors.Errorf("max retries must not be negative, got %d", opts.MaxRetries)
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaultMaxInterval
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Poster{
		url:        webhookURL,
		opts:       opts,
		httpClient: httpClient,
	}, nil
}

// Post sends msg to the webhook. Transport errors, HTTP 429 and 5xx responses are retried up to
// MaxRetries times; a 429 waits at least as long as its Retry-After header asks.
// Any failure is returned as *DeliveryError.
func (p *Poster) Post(ctx context.Context, msg Message) error {
	body, err := json.Marshal(p.request(msg))
	if err != nil {
		return &DeliveryError{Err: errors.Wrap(err, "failed to encode webhook request")}
	}

	policy := &retryAfterBackOff{BackOff: p.newBackOff()}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.opts.MaxRetries)), ctx)

	var lastErr *DeliveryError
	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		policy.retryAfter = 0

		deliveryErr, retryable := p.send(ctx, body)
		if deliveryErr == nil {
			return nil
		}

		lastErr = &deliveryErr.DeliveryError
		if !retryable {
			return backoff.Permanent(deliveryErr)
		}
		if deliveryErr.StatusCode == http.StatusTooManyRequests {
			policy.retryAfter = deliveryErr.retryAfter
		}
		return deliveryErr
	}, b)
	if err == nil {
		return nil
	}

	if lastErr == nil {
		lastErr = &DeliveryError{Err: err}
	}
	if lastErr.Err == nil && ctx.Err() != nil {
		lastErr.Err = ctx.Err()
	}
	lastErr.Attempts = attempts
	return lastErr
}

// payload is the Slack-compatible webhook body. Unset fields are left out.
type payload struct {
	Text        string       `json:"text,omitempty"`
	Username    string       `json:"username,omitempty"`
	Channel     string       `json:"channel,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type attachment struct {
	Fallback string `json:"fallback,omitempty"`
	Color    string `json:"color,omitempty"`
	Text     string `json:"text,omitempty"`
	Footer   string `json:"footer,omitempty"`
}

func (p *Poster) request(msg Message) payload {
	req := payload{
		Username: p.opts.Username,
		Channel:  p.opts.ChannelName,
	}

	if a := msg.Attachment; a != nil {
		req.Attachments = []attachment{{
			Fallback: a.Fallback,
			Color:    a.Color,
			Text:     a.Text,
			Footer:   a.Footer,
		}}
	} else {
		req.Text = msg.Text
	}

	return req
}

// send performs one delivery attempt and reports whether a failure is worth retrying.
func (p *Poster) send(ctx context.Context, body []byte) (*deliveryAttemptError, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return &deliveryAttemptError{DeliveryError: DeliveryError{Err: errors.Wrap(err, "failed to create webhook request")}}, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		retryable := ctx.Err() == nil
		return &deliveryAttemptError{DeliveryError: DeliveryError{Err: errors.Wrap(err, "webhook request failed")}}, retryable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	attemptErr := &deliveryAttemptError{
		DeliveryError: DeliveryError{
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(respBody)),
		},
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		attemptErr.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return attemptErr, true
	case resp.StatusCode >= 500:
		return attemptErr, true
	default:
		return attemptErr, false
	}
}

func (p *Poster) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.InitialInterval
	b.MaxInterval = p.opts.MaxInterval
	// The retry count bounds the attempts, not elapsed time.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// deliveryAttemptError carries the Retry-After delay of a single attempt alongside its DeliveryError.
type deliveryAttemptError struct {
	DeliveryError
	retryAfter time.Duration
}

// retryAfterBackOff stretches the next delay to the server requested Retry-After when it is longer.
type retryAfterBackOff struct {
	backoff.BackOff
	retryAfter time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.retryAfter > next {
		return b.retryAfter
	}
	return next
}

// parseRetryAfter reads a Retry-After header given in seconds. HTTP dates are ignored.
func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
