package scheduler

import "time"

// commandQueue is one device's pending commands, highest priority first
// and FIFO within a priority. It is owned by the device actor.
type commandQueue struct {
	items []QueuedCommand
}

func (q *commandQueue) push(cmd QueuedCommand) {
	i := len(q.items)
	for i > 0 && q.items[i-1].Priority < cmd.Priority {
		i--
	}
	q.items = append(q.items, QueuedCommand{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = cmd
}

// sweep removes expired commands and returns how many were dropped.
func (q *commandQueue) sweep(now time.Time) int {
	kept := q.items[:0]
	for _, cmd := range q.items {
		if !cmd.Expired(now) {
			kept = append(kept, cmd)
		}
	}
	dropped := len(q.items) - len(kept)
	clear(q.items[len(kept):])
	q.items = kept
	return dropped
}

func (q *commandQueue) peek() (QueuedCommand, bool) {
	if len(q.items) == 0 {
		return QueuedCommand{}, false
	}
	return q.items[0], true
}

func (q *commandQueue) pop() {
	if len(q.items) == 0 {
		return
	}
	q.items[0] = QueuedCommand{}
	q.items = q.items[1:]
}

func (q *commandQueue) len() int {
	return len(q.items)
}

func (q *commandQueue) oldestAge(now time.Time) time.Duration {
	var oldest time.Time
	for _, cmd := range q.items {
		if oldest.IsZero() || cmd.EnqueuedAt.Before(oldest) {
			oldest = cmd.EnqueuedAt
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return now.Sub(oldest)
}

func (q *commandQueue) snapshot() []QueuedCommand {
	return append([]QueuedCommand(nil), q.items...)
}
