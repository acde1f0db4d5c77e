package cli

import (
	"context"

	"coinrounds/internal/syncq"
)

// ReplayOutcome decides what happens to a queued command after a replay
// attempt. A duplicate_round reply means an earlier attempt already
// advanced the round, so the command is done. Network failures and server
// errors stay queued. Any other rejection is final.
func ReplayOutcome(err error) syncq.Outcome {
	switch {
	case err == nil:
		return syncq.Done
	case IsNetworkError(err):
		return syncq.Keep
	case IsKind(err, "duplicate_round"):
		return syncq.Done
	}
	if apiErr, ok := err.(*APIError); ok && apiErr.Status >= 500 {
		return syncq.Keep
	}
	return syncq.Done
}

// Replay sends the queued commands through c.
func Replay(ctx context.Context, c *Client, q *syncq.Queue, report func(syncq.Command, error)) (done, kept int, err error) {
	return q.Replay(func(cmd syncq.Command) syncq.Outcome {
		_, sendErr := c.Do(ctx, cmd.Method, cmd.Path, cmd.Body)
		if report != nil {
			report(cmd, sendErr)
		}
		return ReplayOutcome(sendErr)
	})
}
