package game

import (
	"context"
	"fmt"
	"time"
)

// Balance derives the account snapshot of one player from the full ledger.
func (s *Service) Balance(ctx context.Context, gameID, userID int64) (BalanceSnapshot, error) {
	var out BalanceSnapshot
	err := s.store.ReadTx(ctx, func(tx Store) error {
		b, err := tx.GetGameBalance(ctx, gameID, userID)
		if err != nil {
			return err
		}
		txs, err := tx.ListTransactions(ctx, b.ID, Window{})
		if err != nil {
			return fmt.Errorf("ledger for balance %d: %w", b.ID, err)
		}
		out = CalculateBalance(b.Seed, txs)
		return nil
	})
	return out, err
}

// RoundRankings ranks participants within each completed round, oldest
// round first.
func (s *Service) RoundRankings(ctx context.Context, gameID int64) ([]RoundRanking, error) {
	started := time.Now()
	var out []RoundRanking
	err := s.store.ReadTx(ctx, func(tx Store) error {
		if _, err := tx.GetGame(ctx, gameID); err != nil {
			return err
		}
		rounds, err := tx.ListRounds(ctx, gameID)
		if err != nil {
			return err
		}
		balances, err := tx.ListGameBalances(ctx, gameID)
		if err != nil {
			return err
		}

		out = make([]RoundRanking, 0, len(rounds))
		for _, r := range rounds {
			if !r.Completed() {
				continue
			}
			standings, err := standingsTx(ctx, tx, balances, RoundWindow(r, time.Time{}))
			if err != nil {
				return fmt.Errorf("round %d: %w", r.Number, err)
			}
			out = append(out, RoundRanking{RoundID: r.ID, RoundNumber: r.Number, Standings: standings})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observe.RankingComputed("round", time.Since(started))
	return out, nil
}

// CurrentRankings ranks participants over everything traded so far.
func (s *Service) CurrentRankings(ctx context.Context, gameID int64) ([]Standing, error) {
	started := time.Now()
	var out []Standing
	err := s.store.ReadTx(ctx, func(tx Store) error {
		if _, err := tx.GetGame(ctx, gameID); err != nil {
			return err
		}
		balances, err := tx.ListGameBalances(ctx, gameID)
		if err != nil {
			return err
		}
		out, err = standingsTx(ctx, tx, balances, Window{})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.observe.RankingComputed("current", time.Since(started))
	return out, nil
}

// RoundResults returns what was stored when each round was closed.
func (s *Service) RoundResults(ctx context.Context, gameID int64) ([]RoundResult, error) {
	var out []RoundResult
	err := s.store.ReadTx(ctx, func(tx Store) error {
		if _, err := tx.GetGame(ctx, gameID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListRoundResults(ctx, gameID)
		return err
	})
	return out, err
}

func standingsTx(ctx context.Context, st Store, balances []GameBalance, w Window) ([]Standing, error) {
	out := make([]Standing, 0, len(balances))
	for _, b := range balances {
		txs, err := st.ListTransactions(ctx, b.ID, w)
		if err != nil {
			return nil, fmt.Errorf("ledger for balance %d: %w", b.ID, err)
		}
		out = append(out, Standing{
			UserID:          b.UserID,
			Username:        b.Username,
			BalanceSnapshot: CalculateBalance(b.Seed, txs),
		})
	}
	return RankStandings(out), nil
}

// finalizeRoundTx snapshots the standings of r up to closedAt and marks it
// complete. A round that is already complete keeps its stored results.
func finalizeRoundTx(ctx context.Context, tx Store, gameID int64, r Round, closedAt time.Time) error {
	if r.Completed() {
		return nil
	}
	balances, err := tx.ListGameBalances(ctx, gameID)
	if err != nil {
		return err
	}
	standings, err := standingsTx(ctx, tx, balances, RoundWindow(r, closedAt))
	if err != nil {
		return err
	}
	if err := tx.SaveRoundResult(ctx, gameID, RoundResult{
		RoundID:     r.ID,
		RoundNumber: r.Number,
		FinalizedAt: closedAt,
		Standings:   standings,
	}); err != nil {
		return fmt.Errorf("save results of round %d: %w", r.Number, err)
	}
	return tx.CompleteRound(ctx, r.ID, closedAt)
}
