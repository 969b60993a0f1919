package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"levelkit/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the levelkit HTTP + WebSocket API.
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

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
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

// Community returns a handle scoped to one community.
func (c *Client) Community(id string) *Community {
	return &Community{c: c, id: strings.TrimSpace(id)}
}

// Community issues requests under /communities/{id}.
type Community struct {
	c  *Client
	id string
}

// Join creates the member if needed and reports whether it was created.
func (cm *Community) Join(ctx context.Context, userID string) (bool, error) {
	var out struct {
		Created bool `json:"created"`
	}
	err := cm.memberCall(ctx, http.MethodPost, userID, "", nil, &out)
	return out.Created, err
}

// Award grants amount XP to a member.
func (cm *Community) Award(ctx context.Context, userID string, amount int64, actorID string) (ScoreResult, error) {
	var out ScoreResult
	body := map[string]any{"amount": amount, "actor_id": actorID}
	err := cm.memberCall(ctx, http.MethodPost, userID, "/award", body, &out)
	return out, err
}

// Reclaim takes up to amount XP from a member, never below zero.
func (cm *Community) Reclaim(ctx context.Context, userID string, amount int64, actorID string) (ScoreResult, error) {
	var out ScoreResult
	body := map[string]any{"amount": amount, "actor_id": actorID}
	err := cm.memberCall(ctx, http.MethodPost, userID, "/reclaim", body, &out)
	return out, err
}

// ReclaimAll resets a member's score to zero.
func (cm *Community) ReclaimAll(ctx context.Context, userID, actorID string) (ScoreResult, error) {
	var out ScoreResult
	body := map[string]any{"all": true, "actor_id": actorID}
	err := cm.memberCall(ctx, http.MethodPost, userID, "/reclaim", body, &out)
	return out, err
}

// Earn applies the community's per-activity amount unless the member is exempt.
func (cm *Community) Earn(ctx context.Context, userID string, a Activity) (EarnResult, error) {
	var out EarnResult
	err := cm.memberCall(ctx, http.MethodPost, userID, "/earn", a, &out)
	return out, err
}

// IsExempt reports whether activity by the member would be ignored.
func (cm *Community) IsExempt(ctx context.Context, userID string, a Activity) (bool, error) {
	var out struct {
		Exempt bool `json:"exempt"`
	}
	err := cm.memberCall(ctx, http.MethodPost, userID, "/exempt", a, &out)
	return out.Exempt, err
}

// Level fetches a member's score, level and reward progress.
func (cm *Community) Level(ctx context.Context, userID string) (LevelInfo, error) {
	var out LevelInfo
	err := cm.memberCall(ctx, http.MethodGet, userID, "/level", nil, &out)
	return out, err
}

// History returns the member's ledger in append order.
func (cm *Community) History(ctx context.Context, userID string) ([]LedgerEntry, error) {
	var out struct {
		Entries []LedgerEntry `json:"entries"`
	}
	err := cm.memberCall(ctx, http.MethodGet, userID, "/history", nil, &out)
	return out.Entries, err
}

// Leaderboard fetches the top page, or the page around focusUserID when set.
func (cm *Community) Leaderboard(ctx context.Context, focusUserID string) (LeaderboardPage, error) {
	path := "/leaderboard"
	if focusUserID != "" {
		path += "?focus=" + url.QueryEscape(focusUserID)
	}
	var out LeaderboardPage
	err := cm.call(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// SetExemption marks or unmarks a member, role or channel as exempt.
func (cm *Community) SetExemption(ctx context.Context, kind, id string, exempt bool) error {
	path := fmt.Sprintf("/exemptions/%s/%s", url.PathEscape(kind), url.PathEscape(id))
	return cm.call(ctx, http.MethodPut, path, map[string]bool{"exempt": exempt}, nil)
}

// UpsertReward sets the level a role is granted at and reports whether it is new.
func (cm *Community) UpsertReward(ctx context.Context, roleID string, level int64, message *string) (bool, error) {
	var out struct {
		IsNew bool `json:"is_new"`
	}
	body := map[string]any{"level": level}
	if message != nil {
		body["message"] = *message
	}
	err := cm.call(ctx, http.MethodPut, "/rewards/"+url.PathEscape(roleID), body, &out)
	return out.IsNew, err
}

// RemoveReward deletes a role reward.
func (cm *Community) RemoveReward(ctx context.Context, roleID string) error {
	return cm.call(ctx, http.MethodDelete, "/rewards/"+url.PathEscape(roleID), nil, nil)
}

// SetLevelCurve replaces the community's curve parameters.
func (cm *Community) SetLevelCurve(ctx context.Context, base, modifier, amount int64) error {
	body := map[string]int64{"base": base, "modifier": modifier, "amount": amount}
	return cm.call(ctx, http.MethodPut, "/settings/curve", body, nil)
}

// SetLogChannel sets the channel level changes are announced in. Nil clears it.
func (cm *Community) SetLogChannel(ctx context.Context, channelID *string) error {
	return cm.call(ctx, http.MethodPut, "/settings/log-channel", map[string]*string{"channel_id": channelID}, nil)
}

// SubscribeEvents streams this community's events over WebSocket.
func (cm *Community) SubscribeEvents(ctx context.Context) (<-chan core.Event, error) {
	if cm.id == "" {
		return nil, ErrEmptyCommunityID
	}
	return cm.c.subscribe(ctx, cm.id)
}

func (cm *Community) memberCall(ctx context.Context, method, userID, suffix string, body, out any) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	return cm.call(ctx, method, "/members/"+url.PathEscape(userID)+suffix, body, out)
}

func (cm *Community) call(ctx context.Context, method, path string, body, out any) error {
	if cm.id == "" {
		return ErrEmptyCommunityID
	}
	return cm.c.do(ctx, method, "/communities/"+url.PathEscape(cm.id)+path, body, out)
}

// Health calls /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &hs)
	return hs, err
}

// SubscribeEvents connects to the WebSocket stream and emits events for
// every community. The returned channel closes when ctx is done or the
// connection drops.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan core.Event, error) {
	return c.subscribe(ctx, "")
}

func (c *Client) subscribe(ctx context.Context, community string) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if community != "" {
		target += "?community=" + url.QueryEscape(community)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}
	// unblock ReadJSON when the caller gives up
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	out := make(chan core.Event, 32)
	go func() {
		defer close(out)
		defer stop()
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

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	c.applyHeaders(req)
	if body != nil {
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
