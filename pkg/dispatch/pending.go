package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Pending is the awaitable handle for one in-flight command. It resolves
// exactly once, via exactly one of response, remote error, timeout, or
// disconnect; whichever path wins the race performs the resolution and
// later attempts observe a no-op.
type Pending struct {
	CommandID string
	AgentID   string
	Type      string
	IssuedAt  time.Time

	mu        sync.Mutex
	completed bool
	result    json.RawMessage
	err       error
	timer     *time.Timer

	done chan struct{}
}

func newPending(commandID, agentID, cmdType string) *Pending {
	return &Pending{
		CommandID: commandID,
		AgentID:   agentID,
		Type:      cmdType,
		IssuedAt:  time.Now(),
		done:      make(chan struct{}),
	}
}

// complete records the terminal outcome. Returns false if the command was
// already completed, in which case nothing changes.
func (p *Pending) complete(result json.RawMessage, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.completed {
		return false
	}
	p.completed = true
	p.result = result
	p.err = err
	if p.timer != nil {
		p.timer.Stop()
	}
	close(p.done)
	return true
}

// setTimer attaches the timeout timer, unless the command already completed
// (a same-instant response can beat the timer registration).
func (p *Pending) setTimer(t *time.Timer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed {
		t.Stop()
		return
	}
	p.timer = t
}

// Await blocks until the command reaches a terminal state or the context is
// done. The pending entry itself keeps running after a context cancellation;
// Await just stops waiting for it.
func (p *Pending) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.result, p.err
	}
}

// Done returns a channel closed when the command reaches a terminal state
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Completed reports whether the command has reached a terminal state
func (p *Pending) Completed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}
