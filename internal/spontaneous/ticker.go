package spontaneous

import (
	"context"
	"time"

	"volition/internal/logging"
)

// StartTicker launches a background worker that calls ProcessQueue
// every interval with the given options. Starting while already running
// is a no-op.
func (q *Queue) StartTicker(interval time.Duration, opts ProcessOptions) {
	if interval <= 0 {
		interval = time.Minute
	}

	q.tickerMu.Lock()
	if q.tickerStop != nil {
		q.tickerMu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	q.tickerStop = stop
	q.tickerDone = done
	q.tickerMu.Unlock()

	logging.Queue("delivery ticker started (interval=%s)", interval)
	go q.runTicker(interval, opts, stop, done)
}

// StopTicker signals the worker and waits for the in-flight pass to
// finish. Stopping a stopped ticker is a no-op.
func (q *Queue) StopTicker() {
	q.tickerMu.Lock()
	stop := q.tickerStop
	done := q.tickerDone
	q.tickerStop = nil
	q.tickerDone = nil
	q.tickerMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logging.QueueWarn("delivery ticker did not stop within 5s")
	}
	logging.Queue("delivery ticker stopped")
}

func (q *Queue) runTicker(interval time.Duration, opts ProcessOptions, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-stop:
					cancel()
				case <-ctx.Done():
				}
			}()
			q.ProcessQueue(ctx, opts)
			cancel()
		}
	}
}
