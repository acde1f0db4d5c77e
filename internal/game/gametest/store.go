// Package gametest provides an in-memory game.Store for tests.
package gametest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"coinrounds/internal/game"
)

var _ game.Store = (*Store)(nil)

type state struct {
	nextID   int64
	rooms    map[int64]game.Room
	roster   map[int64][]game.Participation
	games    map[int64]game.Game
	rounds   []game.Round
	balances []game.GameBalance
	txs      []game.Transaction
	results  map[int64][]game.RoundResult
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

func (st *state) clone() *state {
	out := &state{
		nextID:   st.nextID,
		rooms:    make(map[int64]game.Room, len(st.rooms)),
		roster:   make(map[int64][]game.Participation, len(st.roster)),
		games:    make(map[int64]game.Game, len(st.games)),
		rounds:   append([]game.Round(nil), st.rounds...),
		balances: append([]game.GameBalance(nil), st.balances...),
		txs:      append([]game.Transaction(nil), st.txs...),
		results:  make(map[int64][]game.RoundResult, len(st.results)),
	}
	for k, v := range st.rooms {
		out.rooms[k] = v
	}
	for k, v := range st.roster {
		out.roster[k] = append([]game.Participation(nil), v...)
	}
	for k, v := range st.games {
		out.games[k] = v
	}
	for k, v := range st.results {
		out.results[k] = append([]game.RoundResult(nil), v...)
	}
	return out
}

type db struct {
	mu    sync.Mutex
	state *state
	fail  map[string]error
}

// Store is safe for concurrent use. Transactions run one at a time, against a
// private copy that replaces the shared state only on success. Snapshot reads
// run on their own copy and never wait for a transaction.
type Store struct {
	db *db
	tx *state
}

func NewStore() *Store {
	return &Store{db: &db{
		state: &state{
			rooms:   map[int64]game.Room{},
			roster:  map[int64][]game.Participation{},
			games:   map[int64]game.Game{},
			results: map[int64][]game.RoundResult{},
		},
		fail: map[string]error{},
	}}
}

// FailOn makes every later call of the named Store method return err.
func (s *Store) FailOn(method string, err error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.fail[method] = err
}

func (s *Store) do(method string, fn func(st *state) error) error {
	if s.tx != nil {
		if err := s.db.fail[method]; err != nil {
			return err
		}
		return fn(s.tx)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail[method]; err != nil {
		return err
	}
	return fn(s.db.state)
}

func (s *Store) InTx(ctx context.Context, fn func(tx game.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.db.state.clone()
	if err := fn(&Store{db: s.db, tx: work}); err != nil {
		return err
	}
	s.db.state = work
	return nil
}

// ReadTx runs fn against a copy of the state taken at call time. Writes made
// through the copy are discarded.
func (s *Store) ReadTx(ctx context.Context, fn func(tx game.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	s.db.mu.Lock()
	snapshot := s.db.state.clone()
	s.db.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&Store{db: s.db, tx: snapshot})
}

func (s *Store) LockGame(_ context.Context, gameID int64) error {
	return s.do("LockGame", func(st *state) error {
		if _, ok := st.games[gameID]; !ok {
			return fmt.Errorf("%w: %d", game.ErrGameNotFound, gameID)
		}
		return nil
	})
}

func (s *Store) GetGame(_ context.Context, gameID int64) (game.Game, error) {
	var out game.Game
	err := s.do("GetGame", func(st *state) error {
		g, ok := st.games[gameID]
		if !ok {
			return fmt.Errorf("%w: %d", game.ErrGameNotFound, gameID)
		}
		out = g
		return nil
	})
	return out, err
}

func (s *Store) ListGamesByStatus(_ context.Context, status game.GameStatus) ([]game.Game, error) {
	var out []game.Game
	err := s.do("ListGamesByStatus", func(st *state) error {
		for _, g := range st.games {
			if g.Status == status {
				out = append(out, g)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

func (s *Store) UpdateGameStatus(_ context.Context, gameID int64, status game.GameStatus) error {
	return s.do("UpdateGameStatus", func(st *state) error {
		g, ok := st.games[gameID]
		if !ok {
			return fmt.Errorf("%w: %d", game.ErrGameNotFound, gameID)
		}
		g.Status = status
		st.games[gameID] = g
		return nil
	})
}

func (s *Store) GetRoom(_ context.Context, roomID int64) (game.Room, error) {
	var out game.Room
	err := s.do("GetRoom", func(st *state) error {
		r, ok := st.rooms[roomID]
		if !ok {
			return fmt.Errorf("%w: %d", game.ErrRoomNotFound, roomID)
		}
		out = r
		return nil
	})
	return out, err
}

func (s *Store) ListParticipations(_ context.Context, roomID int64) ([]game.Participation, error) {
	var out []game.Participation
	err := s.do("ListParticipations", func(st *state) error {
		out = append(out, st.roster[roomID]...)
		return nil
	})
	return out, err
}

func (s *Store) LatestRound(_ context.Context, gameID int64) (game.Round, error) {
	var out game.Round
	err := s.do("LatestRound", func(st *state) error {
		found := false
		for _, r := range st.rounds {
			if r.GameID == gameID && (!found || r.Number > out.Number) {
				out = r
				found = true
			}
		}
		if !found {
			return fmt.Errorf("%w: game %d has no rounds", game.ErrRoundNotFound, gameID)
		}
		return nil
	})
	return out, err
}

func (s *Store) GetRoundByNumber(_ context.Context, gameID int64, number int) (game.Round, error) {
	var out game.Round
	err := s.do("GetRoundByNumber", func(st *state) error {
		for _, r := range st.rounds {
			if r.GameID == gameID && r.Number == number {
				out = r
				return nil
			}
		}
		return fmt.Errorf("%w: game %d round %d", game.ErrRoundNotFound, gameID, number)
	})
	return out, err
}

func (s *Store) ListRounds(_ context.Context, gameID int64) ([]game.Round, error) {
	var out []game.Round
	err := s.do("ListRounds", func(st *state) error {
		for _, r := range st.rounds {
			if r.GameID == gameID {
				out = append(out, r)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
		return nil
	})
	return out, err
}

func (s *Store) RoundExists(_ context.Context, gameID int64, number int) (bool, error) {
	var out bool
	err := s.do("RoundExists", func(st *state) error {
		for _, r := range st.rounds {
			if r.GameID == gameID && r.Number == number {
				out = true
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) CreateRound(_ context.Context, r game.Round) (game.Round, error) {
	err := s.do("CreateRound", func(st *state) error {
		for _, existing := range st.rounds {
			if existing.GameID == r.GameID && existing.Number == r.Number {
				return fmt.Errorf("%w: game %d round %d", game.ErrDuplicateRound, r.GameID, r.Number)
			}
		}
		r.ID = st.id()
		st.rounds = append(st.rounds, r)
		return nil
	})
	return r, err
}

func (s *Store) CompleteRound(_ context.Context, roundID int64, endedAt time.Time) error {
	return s.do("CompleteRound", func(st *state) error {
		for i, r := range st.rounds {
			if r.ID == roundID {
				at := endedAt
				st.rounds[i].EndedAt = &at
				return nil
			}
		}
		return fmt.Errorf("%w: id %d", game.ErrRoundNotFound, roundID)
	})
}

func (s *Store) CreateGameBalance(_ context.Context, b game.GameBalance) (game.GameBalance, error) {
	err := s.do("CreateGameBalance", func(st *state) error {
		for _, existing := range st.balances {
			if existing.GameID == b.GameID && existing.UserID == b.UserID {
				return fmt.Errorf("%w: game %d user %d", game.ErrBalanceExists, b.GameID, b.UserID)
			}
		}
		b.ID = st.id()
		st.balances = append(st.balances, b)
		return nil
	})
	return b, err
}

func (s *Store) GetGameBalance(_ context.Context, gameID, userID int64) (game.GameBalance, error) {
	var out game.GameBalance
	err := s.do("GetGameBalance", func(st *state) error {
		for _, b := range st.balances {
			if b.GameID == gameID && b.UserID == userID {
				out = b
				return nil
			}
		}
		return fmt.Errorf("%w: game %d user %d", game.ErrBalanceNotFound, gameID, userID)
	})
	return out, err
}

func (s *Store) ListGameBalances(_ context.Context, gameID int64) ([]game.GameBalance, error) {
	var out []game.GameBalance
	err := s.do("ListGameBalances", func(st *state) error {
		for _, b := range st.balances {
			if b.GameID == gameID {
				out = append(out, b)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) ListTransactions(_ context.Context, balanceID int64, w game.Window) ([]game.Transaction, error) {
	var out []game.Transaction
	err := s.do("ListTransactions", func(st *state) error {
		for _, tx := range st.txs {
			if tx.BalanceID == balanceID && w.Contains(tx.OccurredAt) {
				out = append(out, tx)
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
				return out[i].OccurredAt.Before(out[j].OccurredAt)
			}
			return out[i].ID < out[j].ID
		})
		return nil
	})
	return out, err
}

func (s *Store) SaveRoundResult(_ context.Context, gameID int64, res game.RoundResult) error {
	return s.do("SaveRoundResult", func(st *state) error {
		// Results are stored per standing, so a round nobody played in leaves
		// nothing behind.
		if len(res.Standings) == 0 {
			return nil
		}
		for _, existing := range st.results[gameID] {
			if existing.RoundID == res.RoundID {
				return nil
			}
		}
		res.Standings = append([]game.Standing(nil), res.Standings...)
		st.results[gameID] = append(st.results[gameID], res)
		return nil
	})
}

func (s *Store) ListRoundResults(_ context.Context, gameID int64) ([]game.RoundResult, error) {
	var out []game.RoundResult
	err := s.do("ListRoundResults", func(st *state) error {
		out = append(out, st.results[gameID]...)
		sort.Slice(out, func(i, j int) bool { return out[i].RoundNumber < out[j].RoundNumber })
		return nil
	})
	return out, err
}

// Seeding helpers. They bypass transactions and failure injection.

func (s *Store) AddRoom(r game.Room) game.Room {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r.ID = s.db.state.id()
	s.db.state.rooms[r.ID] = r
	return r
}

func (s *Store) AddParticipant(roomID, userID int64, username string, played bool) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.state.roster[roomID] = append(s.db.state.roster[roomID], game.Participation{
		RoomID:    roomID,
		UserID:    userID,
		Username:  username,
		HasPlayed: played,
	})
}

func (s *Store) AddGame(roomID int64, status game.GameStatus, createdAt time.Time) game.Game {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	g := game.Game{ID: s.db.state.id(), RoomID: roomID, Status: status, CreatedAt: createdAt}
	s.db.state.games[g.ID] = g
	return g
}

func (s *Store) AddRound(r game.Round) game.Round {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r.ID = s.db.state.id()
	s.db.state.rounds = append(s.db.state.rounds, r)
	return r
}

func (s *Store) AddBalance(b game.GameBalance) game.GameBalance {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	b.ID = s.db.state.id()
	s.db.state.balances = append(s.db.state.balances, b)
	return b
}

func (s *Store) AddTransaction(tx game.Transaction) game.Transaction {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	tx.ID = s.db.state.id()
	s.db.state.txs = append(s.db.state.txs, tx)
	return tx
}

// Rounds returns a game's rounds ordered by number.
func (s *Store) Rounds(gameID int64) []game.Round {
	out, _ := (&Store{db: s.db}).ListRounds(context.Background(), gameID)
	return out
}

func (s *Store) Balances(gameID int64) []game.GameBalance {
	out, _ := (&Store{db: s.db}).ListGameBalances(context.Background(), gameID)
	return out
}

func (s *Store) Game(gameID int64) game.Game {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.state.games[gameID]
}
