package sync

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var errFeedClosed = errors.New("remote feed closed")

// listener runs one remote subscription on its own goroutine.
type listener struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startListener opens a subscription and hands every snapshot to handle,
// in arrival order. A subscription error or an unexpected close calls
// onErr once and ends the listener.
func startListener(
	parent context.Context,
	logger *zap.Logger,
	open func(context.Context) (Subscription, error),
	handle func(context.Context, Snapshot),
	onErr func(error),
) *listener {
	ctx, cancel := context.WithCancel(parent)
	l := &listener{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(l.done)
		sub, err := open(ctx)
		if err != nil {
			if ctx.Err() == nil {
				onErr(err)
			}
			return
		}
		defer sub.Close()

		for {
			select {
			case snap, ok := <-sub.Snapshots():
				if !ok {
					if ctx.Err() == nil {
						onErr(errFeedClosed)
					}
					return
				}
				if snap.Err != nil {
					if ctx.Err() == nil {
						onErr(snap.Err)
					}
					return
				}
				handle(ctx, snap)
			case <-ctx.Done():
				logger.Debug("listener cancelled")
				return
			}
		}
	}()
	return l
}

// stop cancels the subscription and waits for the goroutine to exit.
func (l *listener) stop() {
	l.cancel()
	<-l.done
}
