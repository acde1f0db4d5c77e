package game

import (
	"sort"
	"time"
)

// CalculateBalance replays a ledger, in order, against an initial balance.
// BUY debits and SELL credits the total price; other types only count toward
// OrderAmount. The result depends on nothing but its arguments.
func CalculateBalance(initial int64, txs []Transaction) BalanceSnapshot {
	out := BalanceSnapshot{
		InitialBalance: initial,
		CurrentBalance: initial,
	}
	for _, tx := range txs {
		switch tx.Type {
		case TxBuy:
			out.CurrentBalance -= tx.TotalPrice
		case TxSell:
			out.CurrentBalance += tx.TotalPrice
		}
		out.OrderAmount += tx.TotalPrice
	}
	out.ProfitAmount = max(out.CurrentBalance-initial, 0)
	out.LossAmount = max(initial-out.CurrentBalance, 0)
	if n := len(txs); n > 0 {
		out.LastSymbol = txs[n-1].Symbol
		out.LastPrice = txs[n-1].Price
	}
	return out
}

// Window is a half-open time range [From, To). A zero bound is unbounded.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}

// RoundWindow is the slice of the ledger that belongs to a round. An open
// round extends to until.
func RoundWindow(r Round, until time.Time) Window {
	w := Window{From: r.StartedAt, To: until}
	if r.EndedAt != nil {
		w.To = *r.EndedAt
	}
	return w
}

// RankStandings orders standings by current balance, highest first, breaking
// ties on user id, and assigns ranks 1..n.
func RankStandings(in []Standing) []Standing {
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].CurrentBalance != in[j].CurrentBalance {
			return in[i].CurrentBalance > in[j].CurrentBalance
		}
		return in[i].UserID < in[j].UserID
	})
	for i := range in {
		in[i].Rank = i + 1
	}
	return in
}
