package game

import "time"

type Room struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	StartSeedMoney int64  `json:"start_seed_money"`
	EndRound       int    `json:"end_round"`
	DelaySeconds   int    `json:"delay_seconds"`
	UserCount      int    `json:"user_count"`
	IsStarted      bool   `json:"is_started"`
	IsDeleted      bool   `json:"is_deleted"`
}

// Participation is one roster entry of a room.
type Participation struct {
	RoomID    int64  `json:"room_id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	HasPlayed bool   `json:"has_played"`
}

type Game struct {
	ID        int64      `json:"id"`
	RoomID    int64      `json:"room_id"`
	Status    GameStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

type Round struct {
	ID              int64      `json:"id"`
	GameID          int64      `json:"game_id"`
	Number          int        `json:"round_number"`
	DurationMinutes int        `json:"duration_minutes"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// Deadline is when the round's timer runs out.
func (r Round) Deadline() time.Time {
	return r.StartedAt.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

func (r Round) Completed() bool {
	return r.EndedAt != nil
}

type GameBalance struct {
	ID        int64     `json:"id"`
	GameID    int64     `json:"game_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Seed      int64     `json:"seed"`
	CreatedAt time.Time `json:"created_at"`
}

type Transaction struct {
	ID         int64           `json:"id"`
	BalanceID  int64           `json:"balance_id"`
	Type       TransactionType `json:"type"`
	TotalPrice int64           `json:"total_price"`
	Symbol     string          `json:"symbol"`
	Price      int64           `json:"price"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type BalanceSnapshot struct {
	InitialBalance int64  `json:"initial_balance"`
	CurrentBalance int64  `json:"current_balance"`
	OrderAmount    int64  `json:"order_amount"`
	ProfitAmount   int64  `json:"profit_amount"`
	LossAmount     int64  `json:"loss_amount"`
	LastSymbol     string `json:"symbol"`
	LastPrice      int64  `json:"price"`
}

type Standing struct {
	Rank     int    `json:"rank"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	BalanceSnapshot
}

type RoundRanking struct {
	RoundID     int64      `json:"round_id"`
	RoundNumber int        `json:"round_number"`
	Standings   []Standing `json:"standings"`
}

// RoundResult is the standings persisted when a round is finalized.
type RoundResult struct {
	RoundID     int64      `json:"round_id"`
	RoundNumber int        `json:"round_number"`
	FinalizedAt time.Time  `json:"finalized_at"`
	Standings   []Standing `json:"standings"`
}

type AdvanceInput struct {
	GameID int64
	// FromRound pins the round being closed. Zero means "whatever round is latest".
	FromRound int
	Config    RoundConfig
}

type GameState struct {
	Game         Game  `json:"game"`
	Room         Room  `json:"room"`
	CurrentRound Round `json:"current_round"`
	IsLastRound  bool  `json:"is_last_round"`
}

// TickReport summarizes one AdvanceDueGames pass.
type TickReport struct {
	Checked  int     `json:"checked"`
	Advanced []int64 `json:"advanced"`
	Ended    []int64 `json:"ended"`
	Skipped  []int64 `json:"skipped"`
	Failed   []int64 `json:"failed"`
}
