package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nidhogg/convograph/internal/graph"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrSourceUnavailable is returned when the history API cannot be reached
// or its circuit breaker is open. Callers keep showing the last good model.
var ErrSourceUnavailable = errors.New("history source unavailable")

// ErrNotFound is returned for lookups of sessions the API does not know.
var ErrNotFound = errors.New("not found")

// GraphPayload is the wire shape of a graph query response.
type GraphPayload struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// SessionDetail is the expanded record for one session.
type SessionDetail struct {
	SessionID string       `json:"session_id"`
	Project   string       `json:"project"`
	StartedAt string       `json:"started_at"`
	EndedAt   string       `json:"ended_at"`
	Messages  []graph.Node `json:"messages"`
}

// Client talks to the conversation-history API. Failures trip a circuit
// breaker so a down backend costs one timeout, not one per frame.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "history-api",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// Only reachability problems count against the breaker; a 404 is a
		// valid answer.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrSourceUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("history API breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c
}

// Health probes the API liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/api/health", nil, nil)
}

// FetchGraph loads the node/edge set for the query window. hours bounds the
// lookback, limit caps the node count; zero means the server default.
func (c *Client) FetchGraph(ctx context.Context, hours, limit int) (*GraphPayload, error) {
	q := url.Values{}
	if hours > 0 {
		q.Set("hours", strconv.Itoa(hours))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var payload GraphPayload
	if err := c.getJSON(ctx, "/api/graph", q, &payload); err != nil {
		return nil, fmt.Errorf("fetch graph: %w", err)
	}
	return &payload, nil
}

// FetchSessionDetail loads the full message list for one session.
func (c *Client) FetchSessionDetail(ctx context.Context, sessionID string) (*SessionDetail, error) {
	var detail SessionDetail
	path := "/api/session/" + url.PathEscape(sessionID)
	if err := c.getJSON(ctx, path, nil, &detail); err != nil {
		return nil, fmt.Errorf("fetch session %s: %w", sessionID, err)
	}
	return &detail, nil
}

// FetchSessionSummary returns a session's stored summary. exists is false
// when the backend has not summarized the session yet, which is not an
// error.
func (c *Client) FetchSessionSummary(ctx context.Context, sessionID string) (summary string, exists bool, err error) {
	var resp struct {
		Summary string `json:"summary"`
		Exists  bool   `json:"exists"`
	}
	path := "/api/session/" + url.PathEscape(sessionID) + "/summary"
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetch summary %s: %w", sessionID, err)
	}
	return resp.Summary, resp.Exists, nil
}

// FetchVisibleSet runs a semantic search and returns matching node IDs for
// the visibility resolver.
func (c *Client) FetchVisibleSet(ctx context.Context, query string, limit int) ([]string, error) {
	req := map[string]any{"query": query}
	if limit > 0 {
		req["limit"] = limit
	}
	var resp struct {
		IDs []string `json:"ids"`
	}
	if err := c.postJSON(ctx, "/api/search/semantic", req, &resp); err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	return resp.IDs, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
		}
		if out == nil {
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", req.URL.Path, err)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", ErrSourceUnavailable)
	}
	return err
}
