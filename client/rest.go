package client

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

	"github.com/madhatter5501/blaze/kanban"
)

// APIError is a non-2xx response from the board server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Is lets callers match a 404 with errors.Is(err, kanban.ErrNotFound).
func (e *APIError) Is(target error) bool {
	return e.Status == http.StatusNotFound && target == kanban.ErrNotFound
}

// CardFields is the body for creating or replacing a card.
type CardFields struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Column      string   `json:"column,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// API talks to the board's HTTP surface.
type API struct {
	base     *url.URL
	token    string
	clientID string
	http     *http.Client
}

// NewAPI creates a client for the server at baseURL. clientID, when set,
// is sent with mutations and on the realtime connection.
func NewAPI(baseURL, token, clientID string) (*API, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	return &API{
		base:     u,
		token:    token,
		clientID: clientID,
		http:     &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Token returns the bearer token in use.
func (a *API) Token() string {
	return a.token
}

// ClientID returns the realtime client identity.
func (a *API) ClientID() string {
	return a.clientID
}

// WebSocketURL returns the realtime channel address.
func (a *API) WebSocketURL() string {
	u := *a.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	if a.clientID != "" {
		u.RawQuery = url.Values{"client_id": {a.clientID}}.Encode()
	}
	return u.String()
}

// Login exchanges a password for the API token and keeps it.
func (a *API) Login(ctx context.Context, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/auth", map[string]string{"password": password}, &resp); err != nil {
		return "", err
	}
	a.token = resp.Token
	return resp.Token, nil
}

// Board fetches the live cards grouped by column.
func (a *API) Board(ctx context.Context) (map[kanban.Column][]kanban.Card, error) {
	var resp struct {
		Columns map[kanban.Column][]kanban.Card `json:"columns"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/board", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Columns, nil
}

// Stats fetches board statistics.
func (a *API) Stats(ctx context.Context) (kanban.Stats, error) {
	var stats kanban.Stats
	err := a.do(ctx, http.MethodGet, "/api/board/stats", nil, &stats)
	return stats, err
}

// CreateCard creates a card.
func (a *API) CreateCard(ctx context.Context, f CardFields) (kanban.Card, error) {
	var c kanban.Card
	err := a.do(ctx, http.MethodPost, "/api/cards", f, &c)
	return c, err
}

// UpdateCard replaces a card's editable fields.
func (a *API) UpdateCard(ctx context.Context, id string, f CardFields) (kanban.Card, error) {
	var c kanban.Card
	err := a.do(ctx, http.MethodPut, "/api/cards/"+url.PathEscape(id), f, &c)
	return c, err
}

// MoveCard moves a card to col.
func (a *API) MoveCard(ctx context.Context, id string, col kanban.Column) (kanban.Card, error) {
	var c kanban.Card
	err := a.do(ctx, http.MethodPatch, "/api/cards/"+url.PathEscape(id)+"/move", map[string]kanban.Column{"column": col}, &c)
	return c, err
}

// ArchiveCard archives a card.
func (a *API) ArchiveCard(ctx context.Context, id string) (kanban.Card, error) {
	var c kanban.Card
	err := a.do(ctx, http.MethodPatch, "/api/cards/"+url.PathEscape(id)+"/archive", nil, &c)
	return c, err
}

// DeleteCard deletes a card.
func (a *API) DeleteCard(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/api/cards/"+url.PathEscape(id), nil, nil)
}

// ArchiveColumn archives every live card in col.
func (a *API) ArchiveColumn(ctx context.Context, col kanban.Column) error {
	return a.do(ctx, http.MethodPost, "/api/columns/"+url.PathEscape(string(col))+"/archive", nil, nil)
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base.String()+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if a.clientID != "" {
		req.Header.Set("X-Client-ID", a.clientID)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
