// Package postgres implements game.Store on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"coinrounds/internal/game"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	roundsUniqueConstraint   = "rounds_game_number_key"
	balancesUniqueConstraint = "game_balances_game_user_key"
)

var _ game.Store = (*Store)(nil)

var (
	writeSerializable = pgx.TxOptions{IsoLevel: pgx.Serializable}
	readSnapshot      = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
)

// querier is what pgxpool.Pool and pgx.Tx have in common.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
	log  *slog.Logger

	maxAttempts int
	retryDelay  time.Duration
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:        pool,
		q:           pool,
		log:         logger,
		maxAttempts: 8,
		retryDelay:  75 * time.Millisecond,
	}
}

// InTx runs fn in a serializable transaction, retrying on serialization
// failures with backoff. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx game.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	retryDelay := s.retryDelay
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == s.maxAttempts-1 {
			break
		}
		s.log.Debug("serialization conflict, retrying", "attempt", attempt+1, "delay", retryDelay)
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return game.ErrTxConflict
}

func (s *Store) runTx(ctx context.Context, fn func(tx game.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, writeSerializable)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(s.bind(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReadTx runs fn in a read-only repeatable read transaction, so every
// statement sees the same snapshot. Nested calls join the outer transaction.
func (s *Store) ReadTx(ctx context.Context, fn func(tx game.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.pool.BeginTx(ctx, readSnapshot)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(s.bind(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) bind(tx pgx.Tx) *Store {
	return &Store{pool: s.pool, q: tx, inTx: true, log: s.log}
}

func (s *Store) LockGame(ctx context.Context, gameID int64) error {
	var id int64
	err := s.q.QueryRow(ctx, `
		SELECT id
		FROM game.games
		WHERE id = $1
		FOR UPDATE
	`, gameID).Scan(&id)
	return notFound(err, game.ErrGameNotFound, "game %d", gameID)
}

func (s *Store) GetGame(ctx context.Context, gameID int64) (game.Game, error) {
	var g game.Game
	var status string
	err := s.q.QueryRow(ctx, `
		SELECT id, room_id, status, created_at
		FROM game.games
		WHERE id = $1
	`, gameID).Scan(&g.ID, &g.RoomID, &status, &g.CreatedAt)
	if err != nil {
		return g, notFound(err, game.ErrGameNotFound, "game %d", gameID)
	}
	g.Status = game.GameStatus(status)
	return g, nil
}

func (s *Store) ListGamesByStatus(ctx context.Context, status game.GameStatus) ([]game.Game, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, room_id, status, created_at
		FROM game.games
		WHERE status = $1
		ORDER BY id
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Game
	for rows.Next() {
		var g game.Game
		var st string
		if err := rows.Scan(&g.ID, &g.RoomID, &st, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Status = game.GameStatus(st)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) UpdateGameStatus(ctx context.Context, gameID int64, status game.GameStatus) error {
	tag, err := s.q.Exec(ctx, `UPDATE game.games SET status = $1 WHERE id = $2`, string(status), gameID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", game.ErrGameNotFound, gameID)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, roomID int64) (game.Room, error) {
	var r game.Room
	err := s.q.QueryRow(ctx, `
		SELECT id, title, start_seed_money, end_round, delay_seconds, user_count, is_started, is_deleted
		FROM game.rooms
		WHERE id = $1
	`, roomID).Scan(&r.ID, &r.Title, &r.StartSeedMoney, &r.EndRound, &r.DelaySeconds, &r.UserCount, &r.IsStarted, &r.IsDeleted)
	if err != nil {
		return r, notFound(err, game.ErrRoomNotFound, "room %d", roomID)
	}
	return r, nil
}

func (s *Store) ListParticipations(ctx context.Context, roomID int64) ([]game.Participation, error) {
	rows, err := s.q.Query(ctx, `
		SELECT ur.room_id, ur.user_id, u.username, ur.has_played
		FROM game.user_rooms ur
		JOIN game.users u ON u.id = ur.user_id
		WHERE ur.room_id = $1
		ORDER BY ur.user_id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Participation
	for rows.Next() {
		var p game.Participation
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.Username, &p.HasPlayed); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const roundColumns = `id, game_id, round_number, duration_minutes, started_at, ended_at`

func scanRound(row pgx.Row) (game.Round, error) {
	var r game.Round
	err := row.Scan(&r.ID, &r.GameID, &r.Number, &r.DurationMinutes, &r.StartedAt, &r.EndedAt)
	return r, err
}

func (s *Store) LatestRound(ctx context.Context, gameID int64) (game.Round, error) {
	r, err := scanRound(s.q.QueryRow(ctx, `
		SELECT `+roundColumns+`
		FROM game.rounds
		WHERE game_id = $1
		ORDER BY round_number DESC
		LIMIT 1
	`, gameID))
	if err != nil {
		return r, notFound(err, game.ErrRoundNotFound, "game %d has no rounds", gameID)
	}
	return r, nil
}

func (s *Store) GetRoundByNumber(ctx context.Context, gameID int64, number int) (game.Round, error) {
	r, err := scanRound(s.q.QueryRow(ctx, `
		SELECT `+roundColumns+`
		FROM game.rounds
		WHERE game_id = $1 AND round_number = $2
	`, gameID, number))
	if err != nil {
		return r, notFound(err, game.ErrRoundNotFound, "game %d round %d", gameID, number)
	}
	return r, nil
}

func (s *Store) ListRounds(ctx context.Context, gameID int64) ([]game.Round, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+roundColumns+`
		FROM game.rounds
		WHERE game_id = $1
		ORDER BY round_number
	`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) RoundExists(ctx context.Context, gameID int64, number int) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM game.rounds WHERE game_id = $1 AND round_number = $2)
	`, gameID, number).Scan(&exists)
	return exists, err
}

func (s *Store) CreateRound(ctx context.Context, r game.Round) (game.Round, error) {
	err := s.q.QueryRow(ctx, `
		INSERT INTO game.rounds (game_id, round_number, duration_minutes, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, r.GameID, r.Number, r.DurationMinutes, r.StartedAt).Scan(&r.ID)
	if err != nil {
		return r, mapWriteError(err, "game %d round %d", r.GameID, r.Number)
	}
	return r, nil
}

func (s *Store) CompleteRound(ctx context.Context, roundID int64, endedAt time.Time) error {
	tag, err := s.q.Exec(ctx, `UPDATE game.rounds SET ended_at = $1 WHERE id = $2`, endedAt, roundID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", game.ErrRoundNotFound, roundID)
	}
	return nil
}

func (s *Store) CreateGameBalance(ctx context.Context, b game.GameBalance) (game.GameBalance, error) {
	err := s.q.QueryRow(ctx, `
		INSERT INTO game.game_balances (game_id, user_id, seed)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, b.GameID, b.UserID, b.Seed).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return b, mapWriteError(err, "game %d user %d", b.GameID, b.UserID)
	}
	return b, nil
}

const balanceSelect = `
	SELECT gb.id, gb.game_id, gb.user_id, u.username, gb.seed, gb.created_at
	FROM game.game_balances gb
	JOIN game.users u ON u.id = gb.user_id
`

func (s *Store) GetGameBalance(ctx context.Context, gameID, userID int64) (game.GameBalance, error) {
	var b game.GameBalance
	err := s.q.QueryRow(ctx, balanceSelect+`WHERE gb.game_id = $1 AND gb.user_id = $2`, gameID, userID).
		Scan(&b.ID, &b.GameID, &b.UserID, &b.Username, &b.Seed, &b.CreatedAt)
	if err != nil {
		return b, notFound(err, game.ErrBalanceNotFound, "game %d user %d", gameID, userID)
	}
	return b, nil
}

func (s *Store) ListGameBalances(ctx context.Context, gameID int64) ([]game.GameBalance, error) {
	rows, err := s.q.Query(ctx, balanceSelect+`WHERE gb.game_id = $1 ORDER BY gb.id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.GameBalance
	for rows.Next() {
		var b game.GameBalance
		if err := rows.Scan(&b.ID, &b.GameID, &b.UserID, &b.Username, &b.Seed, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ListTransactions(ctx context.Context, balanceID int64, w game.Window) ([]game.Transaction, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, balance_id, type, total_price, symbol, price, occurred_at
		FROM game.transactions
		WHERE balance_id = $1
		  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		  AND ($3::timestamptz IS NULL OR occurred_at < $3)
		ORDER BY occurred_at, id
	`, balanceID, nullTime(w.From), nullTime(w.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Transaction
	for rows.Next() {
		var tx game.Transaction
		var typ string
		if err := rows.Scan(&tx.ID, &tx.BalanceID, &typ, &tx.TotalPrice, &tx.Symbol, &tx.Price, &tx.OccurredAt); err != nil {
			return nil, err
		}
		tx.Type = game.TransactionType(typ)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// SaveRoundResult writes one row per standing. A round that already has
// results keeps them.
func (s *Store) SaveRoundResult(ctx context.Context, gameID int64, res game.RoundResult) error {
	batch := &pgx.Batch{}
	for _, st := range res.Standings {
		batch.Queue(`
			INSERT INTO game.round_results (
				round_id, game_id, round_number, rank, user_id, username,
				initial_balance, current_balance, order_amount, profit_amount, loss_amount,
				symbol, price, finalized_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (round_id, user_id) DO NOTHING
		`, res.RoundID, gameID, res.RoundNumber, st.Rank, st.UserID, st.Username,
			st.InitialBalance, st.CurrentBalance, st.OrderAmount, st.ProfitAmount, st.LossAmount,
			st.LastSymbol, st.LastPrice, res.FinalizedAt)
	}
	if batch.Len() == 0 {
		return nil
	}
	return s.sendBatch(ctx, batch)
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	var br pgx.BatchResults
	switch q := s.q.(type) {
	case pgx.Tx:
		br = q.SendBatch(ctx, batch)
	case *pgxpool.Pool:
		br = q.SendBatch(ctx, batch)
	default:
		return fmt.Errorf("querier %T cannot send batches", s.q)
	}
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

func (s *Store) ListRoundResults(ctx context.Context, gameID int64) ([]game.RoundResult, error) {
	rows, err := s.q.Query(ctx, `
		SELECT round_id, round_number, finalized_at, rank, user_id, username,
		       initial_balance, current_balance, order_amount, profit_amount, loss_amount,
		       symbol, price
		FROM game.round_results
		WHERE game_id = $1
		ORDER BY round_number, rank
	`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.RoundResult
	for rows.Next() {
		var roundID int64
		var number int
		var finalizedAt time.Time
		var st game.Standing
		if err := rows.Scan(&roundID, &number, &finalizedAt, &st.Rank, &st.UserID, &st.Username,
			&st.InitialBalance, &st.CurrentBalance, &st.OrderAmount, &st.ProfitAmount, &st.LossAmount,
			&st.LastSymbol, &st.LastPrice); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].RoundID != roundID {
			out = append(out, game.RoundResult{RoundID: roundID, RoundNumber: number, FinalizedAt: finalizedAt})
		}
		last := &out[len(out)-1]
		last.Standings = append(last.Standings, st)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func notFound(err error, sentinel error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
	}
	return err
}

// mapWriteError turns unique violations on the round and balance keys into
// the domain duplicates.
func mapWriteError(err error, format string, args ...any) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case roundsUniqueConstraint:
		return fmt.Errorf("%w: %s", game.ErrDuplicateRound, fmt.Sprintf(format, args...))
	case balancesUniqueConstraint:
		return fmt.Errorf("%w: %s", game.ErrBalanceExists, fmt.Sprintf(format, args...))
	}
	return err
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
