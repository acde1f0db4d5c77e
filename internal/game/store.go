package game

import (
	"context"
	"time"
)

// Store is the persistence collaborator. Implementations map missing rows to
// the NotFound sentinels and uniqueness violations to ErrDuplicateRound or
// ErrBalanceExists.
type Store interface {
	// InTx runs fn against a transaction-bound Store. Nothing fn writes is
	// visible unless fn returns nil.
	InTx(ctx context.Context, fn func(tx Store) error) error

	// ReadTx runs fn against a read-only Store that sees every table as of
	// one instant. It never blocks writers.
	ReadTx(ctx context.Context, fn func(tx Store) error) error

	// LockGame takes an exclusive lock on the game row for the rest of the
	// current transaction.
	LockGame(ctx context.Context, gameID int64) error

	GetGame(ctx context.Context, gameID int64) (Game, error)
	ListGamesByStatus(ctx context.Context, status GameStatus) ([]Game, error)
	UpdateGameStatus(ctx context.Context, gameID int64, status GameStatus) error

	GetRoom(ctx context.Context, roomID int64) (Room, error)
	ListParticipations(ctx context.Context, roomID int64) ([]Participation, error)

	LatestRound(ctx context.Context, gameID int64) (Round, error)
	GetRoundByNumber(ctx context.Context, gameID int64, number int) (Round, error)
	ListRounds(ctx context.Context, gameID int64) ([]Round, error)
	RoundExists(ctx context.Context, gameID int64, number int) (bool, error)
	CreateRound(ctx context.Context, r Round) (Round, error)
	CompleteRound(ctx context.Context, roundID int64, endedAt time.Time) error

	CreateGameBalance(ctx context.Context, b GameBalance) (GameBalance, error)
	GetGameBalance(ctx context.Context, gameID, userID int64) (GameBalance, error)
	ListGameBalances(ctx context.Context, gameID int64) ([]GameBalance, error)

	// ListTransactions returns the ledger of one balance inside w, ordered by
	// occurrence then id.
	ListTransactions(ctx context.Context, balanceID int64, w Window) ([]Transaction, error)

	SaveRoundResult(ctx context.Context, gameID int64, res RoundResult) error
	ListRoundResults(ctx context.Context, gameID int64) ([]RoundResult, error)
}

// Locker serializes lifecycle mutations per key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type EventType string

const (
	EventGameStarted   EventType = "game.started"
	EventRoundAdvanced EventType = "round.advanced"
	EventGameEnded     EventType = "game.ended"
)

type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	GameID      int64     `json:"game_id"`
	RoundID     int64     `json:"round_id"`
	RoundNumber int       `json:"round_number"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher announces committed lifecycle changes.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Observer receives lifecycle counters. internal/metrics implements it.
type Observer interface {
	RoundAdvanced()
	DuplicateRound()
	GameStarted()
	GameEnded()
	RankingComputed(scope string, d time.Duration)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

type nopObserver struct{}

func (nopObserver) RoundAdvanced() {}

func (nopObserver) DuplicateRound() {}

func (nopObserver) GameStarted() {}

func (nopObserver) GameEnded() {}

func (nopObserver) RankingComputed(string, time.Duration) {}
