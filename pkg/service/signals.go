package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

type signalWatcher struct {
	signals []os.Signal
}

// NewSignalWatcher returns a service that stops its group on SIGINT or SIGTERM.
func NewSignalWatcher() *signalWatcher {
	return &signalWatcher{signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM}}
}

func (w *signalWatcher) Name() string {
	return "signal watcher"
}

func (w *signalWatcher) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, w.signals...)
	defer signal.Stop(sigCh)

	select {
	case s := <-sigCh:
		slog.Info("stopping due to signal", "signal", s.String())
	case <-ctx.Done():
	}
	return nil
}
