package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"habitquest/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the HabitQuest HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// Health calls /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &hs)
	return hs, err
}

// Profile fetches the caller's progression.
func (c *Client) Profile(ctx context.Context) (core.Profile, error) {
	var p core.Profile
	err := c.do(ctx, http.MethodGet, "/profile", nil, &p)
	return p, err
}

// Quests lists the caller's quests; status may be empty, "active" or "completed".
func (c *Client) Quests(ctx context.Context, status core.QuestStatus) ([]core.Quest, error) {
	path := "/quests"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var body struct {
		Quests []core.Quest `json:"quests"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &body)
	return body.Quests, err
}

// CreateQuest turns a to-do item into a quest.
func (c *Client) CreateQuest(ctx context.Context, text string, difficulty core.Difficulty) (core.Quest, error) {
	var body struct {
		Quest core.Quest `json:"quest"`
	}
	err := c.do(ctx, http.MethodPost, "/quests", map[string]string{"text": text, "difficulty": string(difficulty)}, &body)
	return body.Quest, err
}

// CompleteQuest completes a quest and returns the rewards it earned.
func (c *Client) CompleteQuest(ctx context.Context, questID string) (Completion, error) {
	if strings.TrimSpace(questID) == "" {
		return Completion{}, ErrEmptyID
	}
	var out Completion
	err := c.do(ctx, http.MethodPost, "/quests/complete", map[string]string{"quest_id": questID}, &out)
	return out, err
}

// TransformJournal retells a journal entry as narrative.
func (c *Client) TransformJournal(ctx context.Context, entry string) (string, error) {
	var body struct {
		Narrative string `json:"narrative"`
	}
	err := c.do(ctx, http.MethodPost, "/journal/transform", map[string]string{"entry": entry}, &body)
	return body.Narrative, err
}

func (c *Client) WeeklySummary(ctx context.Context) (WeeklySummary, error) {
	var out WeeklySummary
	err := c.do(ctx, http.MethodPost, "/story/weekly-summary", nil, &out)
	return out, err
}

// Transactions returns recent ledger entries, newest first. limit <= 0 uses the server default.
func (c *Client) Transactions(ctx context.Context, limit int) ([]core.CurrencyTransaction, error) {
	path := "/ledger/transactions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var body struct {
		Transactions []core.CurrencyTransaction `json:"transactions"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &body)
	return body.Transactions, err
}

// Items lists the shop catalog.
func (c *Client) Items(ctx context.Context) ([]core.Item, error) {
	var body struct {
		Items []core.Item `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "/shop/items", nil, &body)
	return body.Items, err
}

func (c *Client) Purchase(ctx context.Context, itemID string) (Purchase, error) {
	if strings.TrimSpace(itemID) == "" {
		return Purchase{}, ErrEmptyID
	}
	var out Purchase
	err := c.do(ctx, http.MethodPost, "/shop/purchase", map[string]string{"item_id": itemID}, &out)
	return out, err
}

func (c *Client) UnlockSkill(ctx context.Context, skillID string) (core.Profile, error) {
	if strings.TrimSpace(skillID) == "" {
		return core.Profile{}, ErrEmptyID
	}
	var body struct {
		Profile core.Profile `json:"profile"`
	}
	err := c.do(ctx, http.MethodPost, "/skills/unlock", map[string]string{"skill_id": skillID}, &body)
	return body.Profile, err
}

func (c *Client) Leaderboard(ctx context.Context, limit int) (Leaderboard, error) {
	path := "/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out Leaderboard
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, c.wsURL, c.headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if derr := decodeJSON(resp, nil); derr != nil {
				return nil, derr
			}
		}
		return nil, err
	}

	out := make(chan core.Event, 32)
	done := make(chan struct{})
	go func() {
		// unblocks ReadJSON when ctx ends first
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return err
	}
	c.applyHeaders(req)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
