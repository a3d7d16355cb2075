// Package sseclient consumes the chat stream endpoint from the client side.
package sseclient

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"chatstream/internal/domain"
)

const (
	chatPath    = "/api/sse/chat"
	cancelPath  = "/api/sse/cancel"
	modelsPath  = "/api/v1/models"
	maxLineSize = 1024 * 1024

	alreadyProcessed = "Message already processed"
)

// EndpointURL builds the stream URL for one outgoing message.
func EndpointURL(base, prompt, messageID string) string {
	q := url.Values{}
	q.Set("prompt", prompt)
	q.Set("message_id", messageID)
	return strings.TrimRight(base, "/") + chatPath + "?" + q.Encode()
}

// NewMessageID returns a fresh, lexically sortable message id.
func NewMessageID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), crand.Reader).String()
}

// Client talks to a chatstream server.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential on administrative calls.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the server at base.
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stream opens the stream for prompt and delivers its events until a
// terminal event, end of body, or ctx cancellation. A read failure after the
// stream opened is delivered as an error event. Opening fails with
// domain.ErrDuplicateRequest when the server already handled messageID.
func (c *Client) Stream(ctx context.Context, prompt, messageID string) (<-chan domain.StreamEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, EndpointURL(c.base, prompt, messageID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := checkStreamResponse(resp, messageID); err != nil {
		resp.Body.Close()
		return nil, err
	}

	ch := make(chan domain.StreamEvent, 16)
	go c.read(ctx, resp.Body, messageID, ch)
	return ch, nil
}

func checkStreamResponse(resp *http.Response, messageID string) error {
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch resp.StatusCode {
		case http.StatusBadRequest:
			return domain.NewDomainError("Client.Stream", domain.ErrMissingParameter, string(bytes.TrimSpace(body)))
		case http.StatusServiceUnavailable:
			return domain.NewDomainError("Client.Stream", domain.ErrPoolFull, string(bytes.TrimSpace(body)))
		default:
			return fmt.Errorf("stream request failed: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		}
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if strings.TrimSpace(string(body)) == alreadyProcessed {
			return domain.NewDomainError("Client.Stream", domain.ErrDuplicateRequest, messageID)
		}
		return fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	return nil
}

func (c *Client) read(ctx context.Context, body io.ReadCloser, messageID string, ch chan<- domain.StreamEvent) {
	defer close(ch)
	defer body.Close()

	send := func(ev domain.StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		data, ok := bytes.CutPrefix(sc.Bytes(), []byte("data:"))
		if !ok {
			// Blank separators and ": keep-alive" comments.
			continue
		}
		var ev domain.StreamEvent
		if err := json.Unmarshal(bytes.TrimSpace(data), &ev); err != nil {
			c.logger.Warn("skipping malformed stream event", "message_id", messageID, "error", err)
			continue
		}
		if !send(ev) || ev.Terminal() {
			return
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		send(domain.NewErrorEvent(messageID, "Stream error: "+err.Error()))
	}
}

// Cancel asks the server to stop messageID's stream. It reports whether a
// stream was active.
func (c *Client) Cancel(ctx context.Context, messageID string) (bool, error) {
	u := c.base + cancelPath + "?" + url.Values{"message_id": {messageID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("cancel stream: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	case http.StatusUnauthorized:
		return false, domain.ErrAuthInvalid
	default:
		return false, fmt.Errorf("cancel stream: status %d", resp.StatusCode)
	}
}

// Models lists the models the server's provider offers.
func (c *Client) Models(ctx context.Context) ([]domain.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+modelsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("list models: status %d: %s", resp.StatusCode, body.Error)
	}
	var models []domain.ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return models, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
