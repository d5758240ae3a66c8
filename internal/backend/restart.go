package backend

import (
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
)

func newRestartPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = restartBaseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()
	return backoff.WithMaxRetries(policy, maxRestartAttempts)
}

func (native *Native) handleError(err error) {
	if err == nil {
		return
	}
	native.registry.IncError("backend")
	native.logger.Warn("notifier error", map[string]string{
		"error": err.Error(),
	})
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		// the kernel queue dropped events but the notifier is intact
		native.requestRescan("overflow")
		return
	}
	native.scheduleRestart(err)
}

func (native *Native) scheduleRestart(err error) {
	native.restartMutex.Lock()
	if native.isClosed() || native.restartTimer != nil {
		native.restartMutex.Unlock()
		return
	}
	delay := native.restartPolicy.NextBackOff()
	if delay == backoff.Stop {
		native.restartMutex.Unlock()
		native.report(&BackendError{Op: "restart", Err: err, Fatal: true})
		return
	}
	native.restartTimer = native.clock.AfterFunc(delay, native.performRestart)
	native.restartMutex.Unlock()
}

func (native *Native) performRestart() {
	native.mutex.Lock()
	if native.closed {
		native.mutex.Unlock()
		return
	}
	native.forwarders.Add(1)
	native.mutex.Unlock()
	defer native.forwarders.Done()

	restartErr := native.restart()

	native.restartMutex.Lock()
	native.restartTimer = nil
	if restartErr == nil {
		native.restartPolicy.Reset()
		native.restartMutex.Unlock()
		native.registry.IncBackendRestart()
		native.requestRescan("restart")
		return
	}
	native.restartMutex.Unlock()

	native.logger.Warn("notifier restart failed", map[string]string{
		"error": restartErr.Error(),
	})
	native.scheduleRestart(restartErr)
}

func (native *Native) restart() error {
	native.mutex.Lock()
	if native.closed {
		native.mutex.Unlock()
		return nil
	}
	paths := make([]string, 0, len(native.watches))
	for path := range native.watches {
		paths = append(paths, path)
	}
	native.mutex.Unlock()

	replacement, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, path := range paths {
		if err := replacement.Add(path); err != nil {
			native.logger.Warn("notifier re-add failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
		}
	}

	native.mutex.Lock()
	if native.closed {
		native.mutex.Unlock()
		_ = replacement.Close()
		return nil
	}
	previous := native.notifier
	native.notifier = replacement
	native.startForwarder(replacement)
	native.mutex.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// requestRescan emits an unknown event for every watched directory so the
// consumer re-reads them after notifications may have been lost.
func (native *Native) requestRescan(reason string) {
	native.mutex.Lock()
	paths := make([]string, 0, len(native.watches))
	for path := range native.watches {
		paths = append(paths, path)
	}
	native.mutex.Unlock()

	for _, path := range paths {
		native.forward(RawEvent{Path: path, Kind: KindUnknown, Op: reason})
	}
}

func (native *Native) isClosed() bool {
	native.mutex.Lock()
	defer native.mutex.Unlock()
	return native.closed
}
