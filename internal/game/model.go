package game

import (
	"errors"
	"fmt"
)

type GameStatus string

const (
	StatusNotStarted GameStatus = "NOT_STARTED"
	StatusActive     GameStatus = "ACTIVE"
	StatusEnded      GameStatus = "ENDED"
)

type TransactionType string

const (
	TxBuy  TransactionType = "BUY"
	TxSell TransactionType = "SELL"
)

const (
	// FirstRoundNumber is the number of the round created when a game starts.
	FirstRoundNumber = 1

	DefaultRoundDurationMinutes = 5
)

var (
	ErrGameNotFound    = errors.New("game not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoundNotFound   = errors.New("round not found")
	ErrBalanceNotFound = errors.New("game balance not found")

	ErrDuplicateRound     = errors.New("round already exists")
	ErrBalanceExists      = errors.New("game balance already exists")
	ErrGameEnded          = errors.New("game has ended")
	ErrGameAlreadyStarted = errors.New("game already started")
	ErrGameNotActive      = errors.New("game is not active")
	ErrLockBusy           = errors.New("game is busy, try again")
	ErrTxConflict         = errors.New("transaction conflict, please retry")

	ErrInvalidSeed     = errors.New("seed money must be a non-negative integer")
	ErrInvalidDuration = errors.New("round duration must be > 0 minutes")
	ErrInvalidEndRound = errors.New("end round must be >= 1")
)

// ErrorKind returns a stable, machine readable name for a domain error.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGameNotFound):
		return "game_not_found"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrRoundNotFound):
		return "round_not_found"
	case errors.Is(err, ErrBalanceNotFound):
		return "balance_not_found"
	case errors.Is(err, ErrDuplicateRound):
		return "duplicate_round"
	case errors.Is(err, ErrBalanceExists):
		return "balance_exists"
	case errors.Is(err, ErrGameEnded):
		return "game_ended"
	case errors.Is(err, ErrGameAlreadyStarted):
		return "game_already_started"
	case errors.Is(err, ErrGameNotActive):
		return "game_not_active"
	case errors.Is(err, ErrLockBusy):
		return "lock_busy"
	case errors.Is(err, ErrTxConflict):
		return "tx_conflict"
	case errors.Is(err, ErrInvalidSeed), errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrInvalidEndRound):
		return "validation"
	default:
		return "internal"
	}
}

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrGameNotFound) ||
		errors.Is(err, ErrRoomNotFound) ||
		errors.Is(err, ErrRoundNotFound) ||
		errors.Is(err, ErrBalanceNotFound)
}

// RoundConfig carries the process-wide round settings into a lifecycle call.
type RoundConfig struct {
	DurationMinutes int
}

func (c RoundConfig) Validate() error {
	if c.DurationMinutes <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidDuration, c.DurationMinutes)
	}
	return nil
}

func ValidateSeed(seed int64) error {
	if seed < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSeed, seed)
	}
	return nil
}
