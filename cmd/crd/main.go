package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	cl "coinrounds/internal/cli"
	"coinrounds/internal/config"
	"coinrounds/internal/syncq"

	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL
	queuePath := cfg.QueuePath
	asJSON := false

	root := &cobra.Command{
		Use:          "crd",
		Short:        "coinrounds operator CLI",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupColor(asJSON)
		},
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")
	root.PersistentFlags().StringVar(&queuePath, "queue", queuePath, "offline queue file (default ~/.crd/queue.json)")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON")

	out := &printer{json: &asJSON}
	root.AddCommand(
		newRankingsCmd(&apiBase, out),
		newStandingsCmd(&apiBase, out),
		newResultsCmd(&apiBase, out),
		newStatusCmd(&apiBase, out),
		newBalanceCmd(&apiBase, out),
		newStartCmd(&apiBase, &queuePath, out),
		newEndCmd(&apiBase, &queuePath, out),
		newAdvanceCmd(&apiBase, &queuePath, out),
		newSyncCmd(&apiBase, &queuePath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newRankingsCmd(apiBase *string, out *printer) *cobra.Command {
	return &cobra.Command{
		Use:   "rankings GAME",
		Short: "Show standings of every completed round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).RoundRankings(ctx, args[0])
			if err != nil {
				return err
			}
			return out.rankings(raw)
		},
	}
}

func newStandingsCmd(apiBase *string, out *printer) *cobra.Command {
	return &cobra.Command{
		Use:     "standings GAME",
		Short:   "Show the cumulative ranking so far",
		Aliases: []string{"current"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).CurrentRankings(ctx, args[0])
			if err != nil {
				return err
			}
			return out.standings(raw)
		},
	}
}

func newResultsCmd(apiBase *string, out *printer) *cobra.Command {
	return &cobra.Command{
		Use:   "results GAME",
		Short: "Show results stored when each round closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).RoundResults(ctx, args[0])
			if err != nil {
				return err
			}
			return out.results(raw)
		},
	}
}

func newStatusCmd(apiBase *string, out *printer) *cobra.Command {
	return &cobra.Command{
		Use:   "status GAME",
		Short: "Show game status and the current round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).GameStatus(ctx, args[0])
			if err != nil {
				return err
			}
			return out.status(raw)
		},
	}
}

func newBalanceCmd(apiBase *string, out *printer) *cobra.Command {
	return &cobra.Command{
		Use:   "balance GAME USER",
		Short: "Show a player's ledger-derived balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).Balance(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return out.balance(raw)
		},
	}
}

func newStartCmd(apiBase, queuePath *string, out *printer) *cobra.Command {
	return &cobra.Command{
		Use:   "start GAME",
		Short: "Open balances and round 1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).StartGame(ctx, args[0])
			if err != nil {
				return queueOnNetworkError(*queuePath, err, syncq.Command{Method: http.MethodPost, Path: cl.StartPath(args[0])})
			}
			return out.round(raw, "Game started.")
		},
	}
}

func newEndCmd(apiBase, queuePath *string, out *printer) *cobra.Command {
	return &cobra.Command{
		Use:   "end GAME",
		Short: "Close the last round and end the game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).EndGame(ctx, args[0])
			if err != nil {
				return queueOnNetworkError(*queuePath, err, syncq.Command{Method: http.MethodPost, Path: cl.EndPath(args[0])})
			}
			return out.round(raw, "Game ended.")
		},
	}
}

func newAdvanceCmd(apiBase, queuePath *string, out *printer) *cobra.Command {
	var from int
	cmd := &cobra.Command{
		Use:   "advance GAME",
		Short: "Close the current round and open the next",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from < 0 {
				return fmt.Errorf("--from must be >= 0")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			if from == 0 {
				// Pin the round so a retry or a queued replay cannot advance twice.
				current, err := client.CurrentRound(ctx, args[0])
				if err != nil {
					if cl.IsNetworkError(err) {
						return fmt.Errorf("cannot reach the API to find the current round, pass --from to queue this advance: %w", err)
					}
					return err
				}
				from = current
			}
			raw, err := client.Advance(ctx, args[0], from)
			if err != nil {
				if cl.IsKind(err, "duplicate_round") {
					printWarn("That round was already advanced.")
					return nil
				}
				return queueOnNetworkError(*queuePath, err, syncq.Command{
					Method: http.MethodPost,
					Path:   cl.AdvancePath(args[0]),
					Body:   cl.AdvanceBody(from),
				})
			}
			return out.round(raw, "Round advanced.")
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "round number being closed (default: the current round); retries with the same value never advance twice")
	return cmd
}

func newSyncCmd(apiBase, queuePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay lifecycle commands queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := syncq.Open(*queuePath)
			if err != nil {
				return err
			}
			queued, err := q.Load()
			if err != nil {
				return err
			}
			if len(queued) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			done, kept, err := cl.Replay(ctx, newClient(apiBase), q, func(c syncq.Command, err error) {
				switch {
				case err == nil:
				case cl.IsKind(err, "duplicate_round"):
					printWarn(fmt.Sprintf("Already applied: %s %s", c.Method, c.Path))
				default:
					printError(fmt.Sprintf("Sync failed for %s %s: %v", c.Method, c.Path, err))
				}
			})
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: done=%d remaining=%d", done, kept))
			return nil
		},
	}
}

// queueOnNetworkError stores c for a later sync when the API was never
// reached. API replies are returned as is.
func queueOnNetworkError(queuePath string, err error, c syncq.Command) error {
	if !cl.IsNetworkError(err) {
		return err
	}
	q, qerr := syncq.Open(queuePath)
	if qerr != nil {
		return fmt.Errorf("%w (queue unavailable: %v)", err, qerr)
	}
	if qerr := q.Push(c); qerr != nil {
		return fmt.Errorf("%w (queue write failed: %v)", err, qerr)
	}
	printWarn("API unreachable; command queued. Run `crd sync` later.")
	return nil
}
