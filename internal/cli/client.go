package cli

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
)

// APIError is a non-2xx reply from the API.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsNetworkError reports whether err happened before the API answered.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	return !errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) RoundRankings(ctx context.Context, gameID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/rounds/"+url.PathEscape(gameID)+"/rankings", nil, &out)
	return out, err
}

func (c *Client) CurrentRankings(ctx context.Context, gameID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/rounds/"+url.PathEscape(gameID)+"/current-rankings", nil, &out)
	return out, err
}

func (c *Client) RoundResults(ctx context.Context, gameID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/rounds/"+url.PathEscape(gameID)+"/round-results", nil, &out)
	return out, err
}

func (c *Client) GameStatus(ctx context.Context, gameID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/games/"+url.PathEscape(gameID), nil, &out)
	return out, err
}

// CurrentRound returns the number of the game's latest round.
func (c *Client) CurrentRound(ctx context.Context, gameID string) (int, error) {
	var out struct {
		CurrentRound *struct {
			RoundNumber int `json:"round_number"`
		} `json:"current_round"`
	}
	if err := c.jsonRequest(ctx, http.MethodGet, "/games/"+url.PathEscape(gameID), nil, &out); err != nil {
		return 0, err
	}
	if out.CurrentRound == nil {
		return 0, &APIError{Status: http.StatusNotFound, Kind: "round_not_found", Message: "game has no rounds yet"}
	}
	return out.CurrentRound.RoundNumber, nil
}

func (c *Client) Balance(ctx context.Context, gameID, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/games/"+url.PathEscape(gameID)+"/balances/"+url.PathEscape(userID), nil, &out)
	return out, err
}

func (c *Client) StartGame(ctx context.Context, gameID string) (map[string]any, error) {
	return c.Do(ctx, http.MethodPost, StartPath(gameID), nil)
}

func (c *Client) EndGame(ctx context.Context, gameID string) (map[string]any, error) {
	return c.Do(ctx, http.MethodPost, EndPath(gameID), nil)
}

// Advance closes fromRound (or the latest round when zero) and opens the next.
func (c *Client) Advance(ctx context.Context, gameID string, fromRound int) (map[string]any, error) {
	return c.Do(ctx, http.MethodPost, AdvancePath(gameID), AdvanceBody(fromRound))
}

func AdvancePath(gameID string) string {
	return "/rounds/" + url.PathEscape(gameID) + "/end-newRound"
}

func StartPath(gameID string) string {
	return "/games/" + url.PathEscape(gameID) + "/start"
}

func EndPath(gameID string) string {
	return "/games/" + url.PathEscape(gameID) + "/end"
}

func AdvanceBody(fromRound int) map[string]any {
	if fromRound <= 0 {
		return nil
	}
	return map[string]any{"from_round": fromRound}
}

func (c *Client) Do(ctx context.Context, method, path string, body map[string]any) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, in, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Kind = payload.Kind
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
