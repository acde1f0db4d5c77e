package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"coinrounds/internal/syncq"
)

func TestAdvanceSendsFromRound(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"round_number":4}`))
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL+"/").Advance(context.Background(), "tok", 3)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if gotPath != "/rounds/tok/end-newRound" || gotBody["from_round"] != float64(3) {
		t.Fatalf("unexpected request %s %v", gotPath, gotBody)
	}
	if out["round_number"] != float64(4) {
		t.Fatalf("unexpected reply %v", out)
	}
}

func TestAPIErrorCarriesKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"round already exists","kind":"duplicate_round"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Advance(context.Background(), "tok", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("expected APIError 409, got %v", err)
	}
	if !IsKind(err, "duplicate_round") || IsNetworkError(err) {
		t.Fatalf("unexpected classification for %v", err)
	}
}

func TestReplayOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syncq.Outcome
	}{
		{"success", nil, syncq.Done},
		{"network", errors.New("dial tcp: connection refused"), syncq.Keep},
		{"duplicate", &APIError{Status: 409, Kind: "duplicate_round"}, syncq.Done},
		{"server", &APIError{Status: 503, Kind: "internal"}, syncq.Keep},
		{"rejected", &APIError{Status: 409, Kind: "game_ended"}, syncq.Done},
	}
	for _, tc := range tests {
		if got := ReplayOutcome(tc.err); got != tc.want {
			t.Fatalf("%s: got=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestReplayDropsDuplicateRounds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"round already exists","kind":"duplicate_round"}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error","kind":"internal"}`))
	}))
	defer srv.Close()

	q, err := syncq.Open(filepath.Join(t.TempDir(), "queue.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = q.Push(syncq.Command{Method: http.MethodPost, Path: AdvancePath("a"), Body: AdvanceBody(1)})
	_ = q.Push(syncq.Command{Method: http.MethodPost, Path: AdvancePath("b")})

	done, kept, err := Replay(context.Background(), NewClient(srv.URL), q, nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if done != 1 || kept != 1 {
		t.Fatalf("done=%d kept=%d", done, kept)
	}
}

func TestCurrentRound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/games/running":
			_, _ = w.Write([]byte(`{"game_id":"running","status":"ACTIVE","current_round":{"round_number":3}}`))
		case "/games/fresh":
			_, _ = w.Write([]byte(`{"game_id":"fresh","status":"NOT_STARTED"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)

	got, err := c.CurrentRound(context.Background(), "running")
	if err != nil || got != 3 {
		t.Fatalf("current round got=%d err=%v", got, err)
	}
	if _, err := c.CurrentRound(context.Background(), "fresh"); !IsKind(err, "round_not_found") {
		t.Fatalf("expected round_not_found, got %v", err)
	}
}
