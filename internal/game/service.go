package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	store   Store
	locks   Locker
	events  Publisher
	observe Observer
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observe = o
		}
	}
}

// WithClock replaces time.Now. Tests use it to place rounds and trades.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, locks Locker, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:   store,
		locks:   locks,
		events:  nopPublisher{},
		observe: nopObserver{},
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartGame creates every participant's balance and round 1, then marks the
// game active. All or nothing.
func (s *Service) StartGame(ctx context.Context, gameID int64, cfg RoundConfig) (Round, error) {
	if err := cfg.Validate(); err != nil {
		return Round{}, err
	}
	unlock, err := s.lockGame(ctx, gameID)
	if err != nil {
		return Round{}, err
	}
	defer unlock()

	now := s.now()
	var first Round
	var balances []GameBalance
	err = s.store.InTx(ctx, func(tx Store) error {
		if err := tx.LockGame(ctx, gameID); err != nil {
			return err
		}
		g, err := tx.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		if g.Status != StatusNotStarted {
			return fmt.Errorf("%w: game %d is %s", ErrGameAlreadyStarted, gameID, g.Status)
		}
		balances, err = createGameBalancesTx(ctx, tx, g)
		if err != nil {
			return err
		}
		first, err = tx.CreateRound(ctx, Round{
			GameID:          gameID,
			Number:          FirstRoundNumber,
			DurationMinutes: cfg.DurationMinutes,
			StartedAt:       now,
		})
		if err != nil {
			return err
		}
		return tx.UpdateGameStatus(ctx, gameID, StatusActive)
	})
	if err != nil {
		return Round{}, err
	}

	s.observe.GameStarted()
	s.log.Info("game started", "game_id", gameID, "participants", len(balances), "round_id", first.ID)
	s.publish(ctx, EventGameStarted, first)
	return first, nil
}

// CreateGameBalances opens one account per participant who actually played,
// seeded from the room.
func (s *Service) CreateGameBalances(ctx context.Context, gameID int64) ([]GameBalance, error) {
	var out []GameBalance
	err := s.store.InTx(ctx, func(tx Store) error {
		g, err := tx.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		out, err = createGameBalancesTx(ctx, tx, g)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func createGameBalancesTx(ctx context.Context, tx Store, g Game) ([]GameBalance, error) {
	room, err := tx.GetRoom(ctx, g.RoomID)
	if err != nil {
		return nil, err
	}
	if err := ValidateSeed(room.StartSeedMoney); err != nil {
		return nil, fmt.Errorf("room %d: %w", room.ID, err)
	}
	roster, err := tx.ListParticipations(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	out := make([]GameBalance, 0, len(roster))
	for _, p := range roster {
		if !p.HasPlayed {
			continue
		}
		b, err := tx.CreateGameBalance(ctx, GameBalance{
			GameID:   g.ID,
			UserID:   p.UserID,
			Username: p.Username,
			Seed:     room.StartSeedMoney,
		})
		if err != nil {
			return nil, fmt.Errorf("create balance for user %d: %w", p.UserID, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// StartNewRound closes the current round and opens the next one.
//
// The current round's results are finalized and stored before the next round
// exists. If round current+1 is already there the call fails with
// ErrDuplicateRound and changes nothing.
//
// Without FromRound the latest round is read before the game lock is taken
// and pinned, so callers that saw the same round cannot both advance.
func (s *Service) StartNewRound(ctx context.Context, in AdvanceInput) (Round, error) {
	if err := in.Config.Validate(); err != nil {
		return Round{}, err
	}
	if in.FromRound == 0 {
		latest, err := s.store.LatestRound(ctx, in.GameID)
		switch {
		case err == nil:
			in.FromRound = latest.Number
		case !errors.Is(err, ErrRoundNotFound):
			return Round{}, err
		}
	}
	unlock, err := s.lockGame(ctx, in.GameID)
	if err != nil {
		return Round{}, err
	}
	defer unlock()

	trace := uuid.NewString()
	now := s.now()
	var current, next Round
	err = s.store.InTx(ctx, func(tx Store) error {
		if err := tx.LockGame(ctx, in.GameID); err != nil {
			return err
		}
		g, err := tx.GetGame(ctx, in.GameID)
		if err != nil {
			return err
		}
		if g.Status == StatusEnded {
			return fmt.Errorf("%w: game %d", ErrGameEnded, in.GameID)
		}

		if in.FromRound > 0 {
			current, err = tx.GetRoundByNumber(ctx, in.GameID, in.FromRound)
		} else {
			current, err = tx.LatestRound(ctx, in.GameID)
		}
		if err != nil {
			return err
		}

		if err := finalizeRoundTx(ctx, tx, in.GameID, current, now); err != nil {
			return err
		}

		exists, err := tx.RoundExists(ctx, in.GameID, current.Number+1)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: game %d round %d", ErrDuplicateRound, in.GameID, current.Number+1)
		}

		next, err = tx.CreateRound(ctx, Round{
			GameID:          in.GameID,
			Number:          current.Number + 1,
			DurationMinutes: in.Config.DurationMinutes,
			StartedAt:       now,
		})
		if err != nil {
			return err
		}
		return tx.UpdateGameStatus(ctx, in.GameID, StatusActive)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateRound) {
			s.observe.DuplicateRound()
			s.log.Warn("duplicate round rejected", "game_id", in.GameID, "from_round", in.FromRound, "trace", trace)
		}
		return Round{}, err
	}

	s.observe.RoundAdvanced()
	s.log.Info("round advanced",
		"game_id", in.GameID,
		"closed_round", current.Number,
		"round", next.Number,
		"duration_minutes", next.DurationMinutes,
		"trace", trace,
	)
	s.publish(ctx, EventRoundAdvanced, next)
	return next, nil
}

// EndGame finalizes the last round and marks the game ended.
func (s *Service) EndGame(ctx context.Context, gameID int64) (Round, error) {
	unlock, err := s.lockGame(ctx, gameID)
	if err != nil {
		return Round{}, err
	}
	defer unlock()

	now := s.now()
	var last Round
	err = s.store.InTx(ctx, func(tx Store) error {
		if err := tx.LockGame(ctx, gameID); err != nil {
			return err
		}
		g, err := tx.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		if g.Status != StatusActive {
			return fmt.Errorf("%w: game %d is %s", ErrGameNotActive, gameID, g.Status)
		}
		last, err = tx.LatestRound(ctx, gameID)
		if err != nil {
			return err
		}
		if err := finalizeRoundTx(ctx, tx, gameID, last, now); err != nil {
			return err
		}
		return tx.UpdateGameStatus(ctx, gameID, StatusEnded)
	})
	if err != nil {
		return Round{}, err
	}
	last.EndedAt = &now

	s.observe.GameEnded()
	s.log.Info("game ended", "game_id", gameID, "last_round", last.Number)
	s.publish(ctx, EventGameEnded, last)
	return last, nil
}

// IsLastRound reports whether the game's latest round has reached endRound.
func (s *Service) IsLastRound(ctx context.Context, gameID int64, endRound int) (bool, error) {
	latest, err := s.store.LatestRound(ctx, gameID)
	if err != nil {
		return false, err
	}
	return latest.Number >= endRound, nil
}

func (s *Service) GameStatus(ctx context.Context, gameID int64) (GameState, error) {
	var out GameState
	err := s.store.ReadTx(ctx, func(tx Store) error {
		g, err := tx.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		room, err := tx.GetRoom(ctx, g.RoomID)
		if err != nil {
			return err
		}
		out.Game = g
		out.Room = room
		out.CurrentRound, err = tx.LatestRound(ctx, gameID)
		if err != nil {
			if errors.Is(err, ErrRoundNotFound) && g.Status == StatusNotStarted {
				return nil
			}
			return err
		}
		out.IsLastRound = out.CurrentRound.Number >= room.EndRound
		return nil
	})
	if err != nil {
		return GameState{}, err
	}
	return out, nil
}

// AdvanceDueGames closes every active round whose timer (plus the room's
// delay) has run out: the game ends if that was its last round, otherwise the
// next round starts. One failing game does not stop the others.
func (s *Service) AdvanceDueGames(ctx context.Context, cfg RoundConfig) (TickReport, error) {
	var report TickReport
	if err := cfg.Validate(); err != nil {
		return report, err
	}
	games, err := s.store.ListGamesByStatus(ctx, StatusActive)
	if err != nil {
		return report, err
	}
	now := s.now()
	for _, g := range games {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		room, err := s.store.GetRoom(ctx, g.RoomID)
		if err != nil {
			s.log.Error("room read failed", "game_id", g.ID, "err", err)
			report.Failed = append(report.Failed, g.ID)
			continue
		}
		latest, err := s.store.LatestRound(ctx, g.ID)
		if err != nil {
			s.log.Error("round read failed", "game_id", g.ID, "err", err)
			report.Failed = append(report.Failed, g.ID)
			continue
		}
		due := latest.Deadline().Add(time.Duration(room.DelaySeconds) * time.Second)
		if now.Before(due) {
			continue
		}

		if latest.Number >= room.EndRound {
			_, err = s.EndGame(ctx, g.ID)
			if err == nil {
				report.Ended = append(report.Ended, g.ID)
				continue
			}
		} else {
			_, err = s.StartNewRound(ctx, AdvanceInput{GameID: g.ID, FromRound: latest.Number, Config: cfg})
			if err == nil {
				report.Advanced = append(report.Advanced, g.ID)
				continue
			}
		}
		if errors.Is(err, ErrDuplicateRound) || errors.Is(err, ErrLockBusy) || errors.Is(err, ErrGameNotActive) {
			report.Skipped = append(report.Skipped, g.ID)
			continue
		}
		s.log.Error("auto advance failed", "game_id", g.ID, "round", latest.Number, "err", err)
		report.Failed = append(report.Failed, g.ID)
	}
	return report, nil
}

func (s *Service) lockGame(ctx context.Context, gameID int64) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	return s.locks.Lock(ctx, "game:"+strconv.FormatInt(gameID, 10))
}

func (s *Service) publish(ctx context.Context, typ EventType, r Round) {
	ev := Event{
		ID:          uuid.NewString(),
		Type:        typ,
		GameID:      r.GameID,
		RoundID:     r.ID,
		RoundNumber: r.Number,
		OccurredAt:  s.now(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("event publish failed", "type", typ, "game_id", r.GameID, "err", err)
	}
}
