package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"coinrounds/internal/game"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

// standingRow mirrors the API's standing; user ids arrive as tokens.
type standingRow struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	game.BalanceSnapshot
}

type roundStandings struct {
	RoundID     string        `json:"round_id"`
	RoundNumber int           `json:"round_number"`
	FinalizedAt time.Time     `json:"finalized_at"`
	Standings   []standingRow `json:"standings"`
}

type roundsPayload struct {
	GameID string           `json:"game_id"`
	Rounds []roundStandings `json:"rounds"`
}

type standingsPayload struct {
	GameID    string        `json:"game_id"`
	Standings []standingRow `json:"standings"`
}

type resultsPayload struct {
	GameID  string           `json:"game_id"`
	Results []roundStandings `json:"results"`
}

type balancePayload struct {
	GameID  string               `json:"game_id"`
	Balance game.BalanceSnapshot `json:"balance"`
}

type roundPayload struct {
	GameID          string     `json:"game_id"`
	RoundID         string     `json:"round_id"`
	RoundNumber     int        `json:"round_number"`
	DurationMinutes int        `json:"duration_minutes"`
	StartedAt       time.Time  `json:"started_at"`
	Deadline        time.Time  `json:"deadline"`
	EndedAt         *time.Time `json:"ended_at"`
}

type statusPayload struct {
	GameID       string          `json:"game_id"`
	Status       game.GameStatus `json:"status"`
	Room         game.Room       `json:"room"`
	IsLastRound  bool            `json:"is_last_round"`
	CurrentRound *roundPayload   `json:"current_round"`
}

// setupColor turns colors off for pipes, redirects and --json.
func setupColor(asJSON bool) {
	if asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
}

type printer struct {
	json *bool
}

func (p *printer) raw(v map[string]any) (bool, error) {
	if p.json == nil || !*p.json {
		return false, nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}

func (p *printer) rankings(raw map[string]any) error {
	if done, err := p.raw(raw); done {
		return err
	}
	out, err := decodeInto[roundsPayload](raw)
	if err != nil {
		return err
	}
	if len(out.Rounds) == 0 {
		printInfo("No completed rounds yet.")
		return nil
	}
	for _, r := range out.Rounds {
		renderStandings(fmt.Sprintf("round %d", r.RoundNumber), r.Standings)
	}
	return nil
}

func (p *printer) standings(raw map[string]any) error {
	if done, err := p.raw(raw); done {
		return err
	}
	out, err := decodeInto[standingsPayload](raw)
	if err != nil {
		return err
	}
	renderStandings("current standings", out.Standings)
	return nil
}

func (p *printer) results(raw map[string]any) error {
	if done, err := p.raw(raw); done {
		return err
	}
	out, err := decodeInto[resultsPayload](raw)
	if err != nil {
		return err
	}
	if len(out.Results) == 0 {
		printInfo("No rounds have been finalized yet.")
		return nil
	}
	for _, r := range out.Results {
		renderStandings(fmt.Sprintf("round %d (closed %s)", r.RoundNumber, r.FinalizedAt.Local().Format(time.Kitchen)), r.Standings)
	}
	return nil
}

func (p *printer) status(raw map[string]any) error {
	if done, err := p.raw(raw); done {
		return err
	}
	out, err := decodeInto[statusPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s ==\n", strings.ToUpper(out.Room.Title))
	fmt.Printf("%-14s %s\n", "Game", out.GameID)
	fmt.Printf("%-14s %s\n", "Status", colorizeStatus(out.Status))
	fmt.Printf("%-14s %s\n", "Seed", comma(out.Room.StartSeedMoney))
	if out.CurrentRound == nil {
		fmt.Printf("%-14s -/%d\n", "Round", out.Room.EndRound)
		fmt.Println()
		return nil
	}
	fmt.Printf("%-14s %d/%d\n", "Round", out.CurrentRound.RoundNumber, out.Room.EndRound)
	fmt.Printf("%-14s %s\n", "Deadline", out.CurrentRound.Deadline.Local().Format(time.RFC3339))
	if out.IsLastRound {
		warn.Println("This is the last round.")
	}
	fmt.Println()
	return nil
}

func (p *printer) balance(raw map[string]any) error {
	if done, err := p.raw(raw); done {
		return err
	}
	out, err := decodeInto[balancePayload](raw)
	if err != nil {
		return err
	}
	b := out.Balance
	accent.Println("\n== BALANCE ==")
	fmt.Printf("%-14s %s\n", "Initial", comma(b.InitialBalance))
	fmt.Printf("%-14s %s\n", "Current", comma(b.CurrentBalance))
	fmt.Printf("%-14s %s\n", "P/L", colorizeAmount(b.CurrentBalance-b.InitialBalance))
	fmt.Printf("%-14s %s\n", "Volume", comma(b.OrderAmount))
	if b.LastSymbol != "" {
		fmt.Printf("%-14s %s @ %s\n", "Last trade", b.LastSymbol, comma(b.LastPrice))
	}
	fmt.Println()
	return nil
}

func (p *printer) round(raw map[string]any, msg string) error {
	if done, err := p.raw(raw); done {
		return err
	}
	out, err := decodeInto[roundPayload](raw)
	if err != nil {
		return err
	}
	printSuccess(msg)
	fmt.Printf("%-14s %d\n", "Round", out.RoundNumber)
	if out.EndedAt != nil {
		fmt.Printf("%-14s %s\n", "Closed", out.EndedAt.Local().Format(time.RFC3339))
		return nil
	}
	fmt.Printf("%-14s %s\n", "Deadline", out.Deadline.Local().Format(time.RFC3339))
	return nil
}

func renderStandings(title string, rows []standingRow) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(title))
	if len(rows) == 0 {
		printInfo("No players.")
		return
	}
	fmt.Printf("%-6s %-18s %14s %14s %12s\n", "RANK", "PLAYER", "BALANCE", "P/L", "VOLUME")
	for _, row := range rows {
		fmt.Printf("%-6d %-18s %14s %14s %12s\n",
			row.Rank,
			truncate(row.Username, 18),
			comma(row.CurrentBalance),
			colorizeAmount(row.CurrentBalance-row.InitialBalance),
			comma(row.OrderAmount),
		)
	}
	fmt.Println()
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeStatus(s game.GameStatus) string {
	switch s {
	case game.StatusActive:
		return success.Sprint(s)
	case game.StatusEnded:
		return danger.Sprint(s)
	default:
		return neutral.Sprint(s)
	}
}

func colorizeAmount(v int64) string {
	text := comma(v)
	switch {
	case v > 0:
		return success.Sprint("+" + text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
