package callmanager

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dialtone/voicebridge/internal/events"
)

// MaxConcurrentDrainHangups bounds how many calls are torn down
// concurrently during a graceful drain.
const MaxConcurrentDrainHangups = 8

// DrainResult summarizes a graceful-shutdown drain.
type DrainResult struct {
	TotalCalls int
	Ended      int
	TimedOut   int
}

// Drain ends every currently admitted call with EndReasonShutdown and waits
// (bounded by timeout) for each to actually reach StateEnded, so a process
// shutdown gives callers a clean BYE/teardown rather than an abrupt socket
// close. Calls still open when timeout elapses are left to the OS to clean
// up and counted as TimedOut.
func (m *Manager) Drain(ctx context.Context, timeout time.Duration) DrainResult {
	m.mu.RLock()
	snapshot := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		snapshot = append(snapshot, c)
	}
	m.mu.RUnlock()

	result := DrainResult{TotalCalls: len(snapshot)}
	if len(snapshot) == 0 {
		return result
	}

	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sem := semaphore.NewWeighted(MaxConcurrentDrainHangups)
	g, gCtx := errgroup.WithContext(drainCtx)

	endedCh := make(chan bool, len(snapshot))
	for _, c := range snapshot {
		c := c
		g.Go(func() error {
			if err := sem.Acquire(gCtx, 1); err != nil {
				endedCh <- false
				return nil
			}
			defer sem.Release(1)

			callID := c.ID()
			m.EndCall(callID, events.EndReasonShutdown)
			endedCh <- m.waitEnded(gCtx, c)
			return nil
		})
	}

	g.Wait()
	close(endedCh)
	for ok := range endedCh {
		if ok {
			result.Ended++
		} else {
			result.TimedOut++
		}
	}
	return result
}

func (m *Manager) waitEnded(ctx context.Context, c *Call) bool {
	if c.State() == StateEnded {
		return true
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if c.State() == StateEnded {
				return true
			}
		}
	}
}
