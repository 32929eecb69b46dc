// Package task provides a small lifecycle manager for long-running goroutines.
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benchio/dutlink/logger"
)

// Func represents a function that performs one iteration of a task within a
// goroutine managed by the Manager. It should return true to keep the loop
// running, or false to stop the goroutine.
type Func func() bool

// CancelFunc is called when a goroutine managed by the Manager exits or is
// canceled. It can be used to release resources held by the task.
type CancelFunc func()

// Manager manages the lifecycle of goroutines within the transport and link
// layers. It provides a structured way to start, stop, and wait for
// goroutines, ensuring proper cancellation and cleanup.
//
// The Manager uses a context.Context to control the goroutines it owns. When
// the context is canceled all running goroutines are signaled to stop, and
// Wait() blocks until they have terminated.
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protect ctx and cancel
	taskMu sync.RWMutex // protect task creation during Wait()
}

// NewManager creates a new Manager with the given context as the parent
// context and logger.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)
	return mgr
}

// getContext safely returns the current context.
func (mgr *Manager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start starts a new goroutine with the given name that calls taskFunc in a
// loop until it returns false or the manager is stopped.
//
// The cancelFunc, if non-nil, is invoked when the goroutine exits.
func (mgr *Manager) Start(name string, taskFunc Func, cancelFunc CancelFunc) error {
	mgr.logger.Debug("start task", "name", name)

	starter, err := mgr.newStarter(name)
	if err != nil {
		return err
	}

	starter.start(func() {
		if cancelFunc != nil {
			defer cancelFunc()
		}

		mgr.runLoop(taskFunc)
	})

	return starter.waitForStart()
}

// Stop signals all running goroutines to terminate.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to terminate, then rearms the manager so it
// can start tasks again.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// Count returns the number of currently running goroutines.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}

// starter encapsulates the common startup handshake.
type starter struct {
	mgr     *Manager
	name    string
	started chan error
}

func (mgr *Manager) newStarter(name string) (*starter, error) {
	ctx := mgr.getContext()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("task manager already stopped")
	default:
	}

	return &starter{mgr: mgr, name: name, started: make(chan error, 1)}, nil
}

func (s *starter) start(body func()) {
	s.mgr.taskMu.RLock()
	defer s.mgr.taskMu.RUnlock()

	s.mgr.wg.Add(1)

	go func() {
		defer s.mgr.wg.Done()

		func() {
			defer func() {
				if r := recover(); r != nil {
					s.started <- fmt.Errorf("panic during startup: %v", r)
				}
			}()

			s.mgr.count.Add(1)
			s.started <- nil
		}()

		defer func() {
			s.mgr.count.Add(-1)
			s.mgr.logger.Debug(fmt.Sprintf("%s task terminated", s.name), "task_count", s.mgr.Count())
		}()

		body()
	}()
}

func (s *starter) waitForStart() error {
	ctx := s.mgr.getContext()

	select {
	case err := <-s.started:
		if err != nil {
			s.mgr.wg.Done() // compensate for failed start
			return fmt.Errorf("failed to start %s: %w", s.name, err)
		}

		return nil

	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for %s to start", s.name)

	case <-ctx.Done():
		return fmt.Errorf("context cancelled while starting %s", s.name)
	}
}

// runLoop runs a task function in a loop with context cancellation and panic
// recovery.
func (mgr *Manager) runLoop(taskFunc Func) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "panic", r)
		}
	}()

	for {
		ctx := mgr.getContext()
		select {
		case <-ctx.Done():
			return
		default:
			if !taskFunc() {
				return
			}
		}
	}
}
