package game

import (
	"errors"
	"testing"
	"time"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func tx(typ TransactionType, total int64, symbol string, price int64) Transaction {
	return Transaction{Type: typ, TotalPrice: total, Symbol: symbol, Price: price}
}

func TestCalculateBalanceExample(t *testing.T) {
	got := CalculateBalance(1_000_000, []Transaction{
		tx(TxBuy, 200_000, "BTC", 100),
		tx(TxSell, 250_000, "ETH", 5),
	})
	want := BalanceSnapshot{
		InitialBalance: 1_000_000,
		CurrentBalance: 1_050_000,
		OrderAmount:    450_000,
		ProfitAmount:   50_000,
		LossAmount:     0,
		LastSymbol:     "ETH",
		LastPrice:      5,
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestCalculateBalanceEmptyLedger(t *testing.T) {
	got := CalculateBalance(500, nil)
	if got.CurrentBalance != 500 || got.OrderAmount != 0 || got.ProfitAmount != 0 || got.LossAmount != 0 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if got.LastSymbol != "" || got.LastPrice != 0 {
		t.Fatalf("expected empty last trade, got %q/%d", got.LastSymbol, got.LastPrice)
	}
}

func TestCalculateBalanceProperties(t *testing.T) {
	ledgers := [][]Transaction{
		nil,
		{tx(TxBuy, 300, "A", 1)},
		{tx(TxSell, 300, "A", 1)},
		{tx(TxBuy, 100, "A", 1), tx(TxSell, 100, "B", 2)},
		{tx(TxBuy, 2_000, "A", 1), tx(TxBuy, 1, "B", 2), tx(TxSell, 7, "C", 3)},
		{tx("GIFT", 999, "Z", 9), tx(TxSell, 10, "A", 1)},
	}
	for i, ledger := range ledgers {
		for _, initial := range []int64{0, 1_000, 1_000_000} {
			got := CalculateBalance(initial, ledger)

			var buys, sells, gross int64
			for _, e := range ledger {
				gross += e.TotalPrice
				switch e.Type {
				case TxBuy:
					buys += e.TotalPrice
				case TxSell:
					sells += e.TotalPrice
				}
			}
			if got.CurrentBalance != initial-buys+sells {
				t.Fatalf("ledger %d initial %d: balance identity broken: %+v", i, initial, got)
			}
			if got.OrderAmount != gross {
				t.Fatalf("ledger %d: order amount got=%d want=%d", i, got.OrderAmount, gross)
			}
			if got.ProfitAmount < 0 || got.LossAmount < 0 {
				t.Fatalf("ledger %d: negative profit/loss %+v", i, got)
			}
			if got.ProfitAmount > 0 && got.LossAmount > 0 {
				t.Fatalf("ledger %d: profit and loss both set %+v", i, got)
			}
			if got.ProfitAmount-got.LossAmount != got.CurrentBalance-initial {
				t.Fatalf("ledger %d: profit-loss does not match delta %+v", i, got)
			}
		}
	}
}

func TestCalculateBalanceUnknownTypeOnlyCountsVolume(t *testing.T) {
	got := CalculateBalance(100, []Transaction{tx("REFUND", 40, "X", 4)})
	if got.CurrentBalance != 100 || got.OrderAmount != 40 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if got.LastSymbol != "X" || got.LastPrice != 4 {
		t.Fatalf("expected last trade from unknown entry, got %+v", got)
	}
}

func TestWindowContains(t *testing.T) {
	w := Window{From: base, To: base.Add(time.Minute)}
	tests := []struct {
		at   time.Time
		want bool
	}{
		{base.Add(-time.Nanosecond), false},
		{base, true},
		{base.Add(59 * time.Second), true},
		{base.Add(time.Minute), false},
	}
	for _, tc := range tests {
		if got := w.Contains(tc.at); got != tc.want {
			t.Fatalf("at %v got=%v want=%v", tc.at, got, tc.want)
		}
	}
	if !(Window{}).Contains(base) {
		t.Fatalf("zero window should contain everything")
	}
}

func TestRoundWindow(t *testing.T) {
	open := Round{StartedAt: base}
	if w := RoundWindow(open, base.Add(time.Hour)); !w.To.Equal(base.Add(time.Hour)) {
		t.Fatalf("open round should extend to until, got %v", w.To)
	}
	ended := base.Add(5 * time.Minute)
	closed := Round{StartedAt: base, EndedAt: &ended}
	if w := RoundWindow(closed, base.Add(time.Hour)); !w.To.Equal(ended) {
		t.Fatalf("closed round should end at EndedAt, got %v", w.To)
	}
}

func TestRankStandingsTieBreak(t *testing.T) {
	in := []Standing{
		{UserID: 30, BalanceSnapshot: BalanceSnapshot{CurrentBalance: 500}},
		{UserID: 10, BalanceSnapshot: BalanceSnapshot{CurrentBalance: 900}},
		{UserID: 20, BalanceSnapshot: BalanceSnapshot{CurrentBalance: 500}},
		{UserID: 5, BalanceSnapshot: BalanceSnapshot{CurrentBalance: -1}},
	}
	got := RankStandings(in)
	wantUsers := []int64{10, 20, 30, 5}
	for i, s := range got {
		if s.UserID != wantUsers[i] || s.Rank != i+1 {
			t.Fatalf("position %d got user=%d rank=%d want user=%d rank=%d", i, s.UserID, s.Rank, wantUsers[i], i+1)
		}
	}
}

func TestRoundDeadline(t *testing.T) {
	r := Round{StartedAt: base, DurationMinutes: 5}
	if !r.Deadline().Equal(base.Add(5 * time.Minute)) {
		t.Fatalf("deadline got %v", r.Deadline())
	}
	if r.Completed() {
		t.Fatalf("round without EndedAt should not be completed")
	}
}

func TestValidation(t *testing.T) {
	if err := (RoundConfig{DurationMinutes: 0}).Validate(); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if err := (RoundConfig{DurationMinutes: 1}).Validate(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if err := ValidateSeed(-1); !errors.Is(err, ErrInvalidSeed) {
		t.Fatalf("expected ErrInvalidSeed, got %v", err)
	}
	if err := ValidateSeed(0); err != nil {
		t.Fatalf("zero seed should be valid: %v", err)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrDuplicateRound, "duplicate_round"},
		{errors.Join(errors.New("ctx"), ErrRoundNotFound), "round_not_found"},
		{ErrInvalidSeed, "validation"},
		{ErrTxConflict, "tx_conflict"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range tests {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Fatalf("ErrorKind(%v) got=%q want=%q", tc.err, got, tc.want)
		}
	}
	if !IsNotFound(ErrBalanceNotFound) || IsNotFound(ErrDuplicateRound) {
		t.Fatalf("IsNotFound misclassified")
	}
}
