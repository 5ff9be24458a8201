// token/keepalive.go
package token

import (
	"time"

	"github.com/deploymenttheory/go-jamfpro-api-client/jamferrors"
	"go.uber.org/zap"
)

// keepAliveTask is the cancellable background refresher. One per Token at
// most; started and stopped deterministically by the owning Connection.
type keepAliveTask struct {
	stop chan struct{}
	done chan struct{}
}

// StartKeepAlive launches the background keep-alive task. The task wakes on a
// fixed interval and triggers Refresh whenever the remaining lifetime drops
// below the refresh buffer. Transient refresh failures are logged and retried
// on the next wake-up rather than crashing the task.
//
// Starting is idempotent while a task is running. An expired token refuses to
// start.
func (t *Token) StartKeepAlive() error {
	t.mu.Lock()
	if t.expiredLocked() {
		t.mu.Unlock()
		return &jamferrors.InvalidTokenError{Message: "cannot start keep-alive: token has expired"}
	}
	if t.keepAlive != nil {
		t.mu.Unlock()
		return nil
	}

	task := &keepAliveTask{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	t.keepAlive = task
	interval := t.keepAliveInterval
	t.mu.Unlock()

	go t.keepAliveLoop(task, interval)

	t.log.Info("token keep-alive started", zap.Duration("interval", interval))
	return nil
}

// StopKeepAlive cancels the background task and waits for it to exit. No-op
// when no task is running.
func (t *Token) StopKeepAlive() {
	t.mu.Lock()
	task := t.keepAlive
	t.keepAlive = nil
	t.mu.Unlock()

	if task == nil {
		return
	}
	close(task.stop)
	<-task.done
	t.log.Info("token keep-alive stopped")
}

// KeepAliveRunning reports whether the background task is active.
func (t *Token) KeepAliveRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keepAlive != nil
}

func (t *Token) keepAliveLoop(task *keepAliveTask, interval time.Duration) {
	defer close(task.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-task.stop:
			return
		case <-ticker.C:
			if !t.NeedsRefresh() {
				continue
			}
			if _, err := t.Refresh(); err != nil {
				// Swallowed: the next tick retries. A permanently dead token
				// keeps failing here until the owner stops the task.
				t.log.Warn("background token refresh failed", zap.Error(err))
			}
		}
	}
}
