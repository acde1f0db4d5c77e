// Package syncq keeps lifecycle commands that could not reach the API so
// they can be replayed later.
package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type Command struct {
	Method   string         `json:"method"`
	Path     string         `json:"path"`
	Body     map[string]any `json:"body,omitempty"`
	QueuedAt time.Time      `json:"queued_at"`
}

// Outcome of replaying one command.
type Outcome int

const (
	// Keep leaves the command queued for the next replay.
	Keep Outcome = iota
	// Done removes the command.
	Done
)

type Queue struct {
	path string
}

// Open uses path, or ~/.crd/queue.json when path is empty.
func Open(path string) (*Queue, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".crd", "queue.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return &Queue{path: path}, nil
}

func (q *Queue) Load() ([]Command, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) Save(commands []Command) error {
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(q.path, raw, 0o600)
}

func (q *Queue) Push(cmd Command) error {
	commands, err := q.Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return q.Save(commands)
}

// Replay sends every queued command in order through send and saves whatever
// send asked to keep. It returns how many commands were removed.
func (q *Queue) Replay(send func(Command) Outcome) (done, kept int, err error) {
	commands, err := q.Load()
	if err != nil {
		return 0, 0, err
	}
	remaining := make([]Command, 0, len(commands))
	for _, c := range commands {
		if send(c) == Keep {
			remaining = append(remaining, c)
			continue
		}
		done++
	}
	if err := q.Save(remaining); err != nil {
		return done, len(remaining), err
	}
	return done, len(remaining), nil
}
