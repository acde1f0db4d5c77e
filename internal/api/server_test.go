package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"coinrounds/internal/config"
	"coinrounds/internal/game"
	"coinrounds/internal/game/gametest"
	"coinrounds/internal/idcodec"
	"coinrounds/internal/lock"
	"coinrounds/internal/metrics"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *gametest.Store
	ids   *idcodec.Codec
	srv   *Server
	game  game.Game
}

// newFixture seeds an active game in round 1 with two funded players.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, lock.NewLocal())
}

func newFixtureWith(t *testing.T, locks game.Locker) *fixture {
	t.Helper()
	store := gametest.NewStore()
	room := store.AddRoom(game.Room{Title: "r", StartSeedMoney: 1_000_000, EndRound: 3})
	g := store.AddGame(room.ID, game.StatusActive, t0)
	store.AddRound(game.Round{GameID: g.ID, Number: 1, DurationMinutes: 5, StartedAt: t0})
	alice := store.AddBalance(game.GameBalance{GameID: g.ID, UserID: 10, Username: "alice", Seed: 1_000_000})
	bob := store.AddBalance(game.GameBalance{GameID: g.ID, UserID: 20, Username: "bob", Seed: 1_000_000})
	store.AddTransaction(game.Transaction{BalanceID: alice.ID, Type: game.TxBuy, TotalPrice: 200_000, Symbol: "BTC", Price: 100, OccurredAt: t0.Add(time.Minute)})
	store.AddTransaction(game.Transaction{BalanceID: bob.ID, Type: game.TxSell, TotalPrice: 50_000, Symbol: "ETH", Price: 7, OccurredAt: t0.Add(2 * time.Minute)})

	ids, err := idcodec.New("api-test-secret-0123456789")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	clock := t0.Add(10 * time.Minute)
	svc := game.NewService(store, locks, nil, game.WithClock(func() time.Time { return clock }))
	cfg := config.APIConfig{RoundDuration: 5}
	return &fixture{
		store: store,
		ids:   ids,
		srv:   New(cfg, nil, svc, ids, metrics.New("api_test")),
		game:  g,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec, out
}

func (f *fixture) token() string {
	return f.ids.Encode(f.game.ID)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("unexpected healthz %d %v", rec.Code, body)
	}
}

func TestEndNewRoundAdvancesOnceThenConflicts(t *testing.T) {
	f := newFixture(t)
	path := "/rounds/" + f.token() + "/end-newRound"

	rec, body := f.do(t, http.MethodPost, path, `{"from_round":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("advance got=%d body=%v", rec.Code, body)
	}
	if body["round_number"] != float64(2) || body["game_id"] != f.token() {
		t.Fatalf("unexpected round descriptor %v", body)
	}

	rec, body = f.do(t, http.MethodPost, path, `{"from_round":1}`)
	if rec.Code != http.StatusConflict || body["kind"] != "duplicate_round" {
		t.Fatalf("duplicate got=%d body=%v", rec.Code, body)
	}
	if got := len(f.store.Rounds(f.game.ID)); got != 2 {
		t.Fatalf("expected 2 rounds, got %d", got)
	}
}

func TestEndNewRoundEmptyBodyUsesLatest(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodPost, "/rounds/"+f.token()+"/end-newRound", "")
	if rec.Code != http.StatusOK || body["round_number"] != float64(2) {
		t.Fatalf("advance got=%d body=%v", rec.Code, body)
	}
}

// gateLocker releases callers into the game lock only once all of them have
// reached it.
type gateLocker struct {
	inner   game.Locker
	arrived sync.WaitGroup
}

func (g *gateLocker) Lock(ctx context.Context, key string) (func(), error) {
	g.arrived.Done()
	g.arrived.Wait()
	return g.inner.Lock(ctx, key)
}

func TestEndNewRoundConcurrentEmptyBodies(t *testing.T) {
	const callers = 2
	gate := &gateLocker{inner: lock.NewLocal()}
	gate.arrived.Add(callers)
	f := newFixtureWith(t, gate)
	path := "/rounds/" + f.token() + "/end-newRound"

	codes := make([]int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	ok, conflict := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflict++
		}
	}
	if ok != 1 || conflict != 1 {
		t.Fatalf("codes=%v", codes)
	}
	if got := len(f.store.Rounds(f.game.ID)); got != 2 {
		t.Fatalf("expected 2 rounds, got %d", got)
	}
}

func TestEndNewRoundErrors(t *testing.T) {
	f := newFixture(t)
	bare := f.store.AddGame(f.game.RoomID, game.StatusNotStarted, t0)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		kind   string
	}{
		{"bad token", "/rounds/not-a-token/end-newRound", "", http.StatusNotFound, "game_not_found"},
		{"no rounds", "/rounds/" + f.ids.Encode(bare.ID) + "/end-newRound", "", http.StatusNotFound, "round_not_found"},
		{"unknown from_round", "/rounds/" + f.token() + "/end-newRound", `{"from_round":9}`, http.StatusNotFound, "round_not_found"},
		{"bad body", "/rounds/" + f.token() + "/end-newRound", `{"from":1}`, http.StatusBadRequest, "validation"},
	}
	for _, tc := range tests {
		rec, body := f.do(t, http.MethodPost, tc.path, tc.body)
		if rec.Code != tc.status || body["kind"] != tc.kind {
			t.Fatalf("%s: got=%d body=%v want=%d/%s", tc.name, rec.Code, body, tc.status, tc.kind)
		}
	}
}

func TestCurrentRankingsOrder(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/rounds/"+f.token()+"/current-rankings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("rankings got=%d", rec.Code)
	}
	standings, _ := body["standings"].([]any)
	if len(standings) != 2 {
		t.Fatalf("expected 2 standings, got %v", body)
	}
	first := standings[0].(map[string]any)
	if first["username"] != "bob" || first["rank"] != float64(1) || first["current_balance"] != float64(1_050_000) {
		t.Fatalf("unexpected leader %v", first)
	}
}

func TestRoundRankingsAndResultsAfterAdvance(t *testing.T) {
	f := newFixture(t)
	if rec, _ := f.do(t, http.MethodPost, "/rounds/"+f.token()+"/end-newRound", ""); rec.Code != http.StatusOK {
		t.Fatalf("advance got=%d", rec.Code)
	}

	rec, body := f.do(t, http.MethodGet, "/rounds/"+f.token()+"/rankings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("rankings got=%d", rec.Code)
	}
	rounds, _ := body["rounds"].([]any)
	if len(rounds) != 1 {
		t.Fatalf("expected only the completed round, got %v", rounds)
	}

	rec, body = f.do(t, http.MethodGet, "/rounds/"+f.token()+"/round-results", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("results got=%d", rec.Code)
	}
	results, _ := body["results"].([]any)
	if len(results) != 1 || results[0].(map[string]any)["round_number"] != float64(1) {
		t.Fatalf("unexpected results %v", results)
	}
}

func TestBalance(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/games/"+f.token()+"/balances/"+f.ids.Encode(10), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance got=%d body=%v", rec.Code, body)
	}
	bal := body["balance"].(map[string]any)
	if bal["current_balance"] != float64(800_000) || bal["loss_amount"] != float64(200_000) || bal["symbol"] != "BTC" {
		t.Fatalf("unexpected balance %v", bal)
	}

	rec, body = f.do(t, http.MethodGet, "/games/"+f.token()+"/balances/"+f.ids.Encode(99), "")
	if rec.Code != http.StatusNotFound || body["kind"] != "balance_not_found" {
		t.Fatalf("missing balance got=%d body=%v", rec.Code, body)
	}
}

func TestGameLifecycleRoutes(t *testing.T) {
	f := newFixture(t)
	room := f.store.AddRoom(game.Room{Title: "fresh", StartSeedMoney: 500, EndRound: 1})
	f.store.AddParticipant(room.ID, 1, "p1", true)
	g := f.store.AddGame(room.ID, game.StatusNotStarted, t0)
	tok := f.ids.Encode(g.ID)

	rec, body := f.do(t, http.MethodGet, "/games/"+tok, "")
	if rec.Code != http.StatusOK || body["status"] != string(game.StatusNotStarted) {
		t.Fatalf("status got=%d body=%v", rec.Code, body)
	}
	if rec, body = f.do(t, http.MethodPost, "/games/"+tok+"/start", ""); rec.Code != http.StatusOK || body["round_number"] != float64(1) {
		t.Fatalf("start got=%d body=%v", rec.Code, body)
	}
	if rec, body = f.do(t, http.MethodPost, "/games/"+tok+"/start", ""); rec.Code != http.StatusConflict || body["kind"] != "game_already_started" {
		t.Fatalf("restart got=%d body=%v", rec.Code, body)
	}
	if rec, body = f.do(t, http.MethodPost, "/games/"+tok+"/end", ""); rec.Code != http.StatusOK {
		t.Fatalf("end got=%d body=%v", rec.Code, body)
	}
	if rec, body = f.do(t, http.MethodPost, "/rounds/"+tok+"/end-newRound", ""); rec.Code != http.StatusConflict || body["kind"] != "game_ended" {
		t.Fatalf("advance after end got=%d body=%v", rec.Code, body)
	}
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/rounds/"+f.token()+"/current-rankings", "")

	rec, _ := f.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics got=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `route="/rounds/{gameId}/current-rankings"`) {
		t.Fatalf("expected route label in metrics output")
	}
}

func TestRankingUserIDOpensBalance(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodGet, "/rounds/"+f.token()+"/current-rankings", "")
	standings, _ := body["standings"].([]any)
	if len(standings) != 2 {
		t.Fatalf("expected 2 standings, got %v", body)
	}
	leader := standings[0].(map[string]any)
	userID, _ := leader["user_id"].(string)
	if userID == "" || userID != f.ids.Encode(20) {
		t.Fatalf("expected tokenized user id, got %v", leader["user_id"])
	}

	rec, body := f.do(t, http.MethodGet, "/games/"+f.token()+"/balances/"+userID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance got=%d body=%v", rec.Code, body)
	}
	bal := body["balance"].(map[string]any)
	if bal["current_balance"] != leader["current_balance"] {
		t.Fatalf("balance %v does not match ranking %v", bal, leader)
	}
}

func TestRoundViewsCarryTokens(t *testing.T) {
	f := newFixture(t)
	if rec, _ := f.do(t, http.MethodPost, "/rounds/"+f.token()+"/end-newRound", ""); rec.Code != http.StatusOK {
		t.Fatalf("advance got=%d", rec.Code)
	}
	round1 := f.store.Rounds(f.game.ID)[0]

	for _, route := range []struct{ path, key string }{
		{"/rankings", "rounds"},
		{"/round-results", "results"},
	} {
		_, body := f.do(t, http.MethodGet, "/rounds/"+f.token()+route.path, "")
		items, _ := body[route.key].([]any)
		if len(items) != 1 {
			t.Fatalf("%s: expected one round, got %v", route.path, body)
		}
		item := items[0].(map[string]any)
		if item["round_id"] != f.ids.Encode(round1.ID) {
			t.Fatalf("%s: expected round token, got %v", route.path, item["round_id"])
		}
		first := item["standings"].([]any)[0].(map[string]any)
		if _, ok := first["user_id"].(string); !ok {
			t.Fatalf("%s: expected user token, got %v", route.path, first["user_id"])
		}
	}
}
