package bot

import (
	"context"
	"runtime/debug"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

// invoke runs fn with call. Missing required arguments skip the call;
// panics and errors are logged. Threaded Funcs run on their own goroutine.
func (m *Manager) invoke(ctx context.Context, fn *hook.Func, call *hook.Call) {
	call.Func = fn
	if missing := call.Missing(fn); len(missing) > 0 {
		err := newMissingArgError(fn.String(), missing)
		m.log.Errorw("hook not invoked", "hook", fn.String(), "error", err)
		m.observe(fn, call, err)
		return
	}

	run := func() {
		err := m.run(ctx, fn, call)
		if err != nil {
			if de, ok := err.(*DispatchError); ok && de.Code == ErrCodePanic {
				m.log.Errorw("hook panicked", "hook", fn.String(), "panic", de.Message, "stack", de.Stack)
			} else {
				m.log.Errorw("hook failed", "hook", fn.String(), "error", err)
			}
		}
		m.observe(fn, call, err)
	}
	if fn.Threaded {
		m.spawn(run)
		return
	}
	run()
}

func (m *Manager) run(ctx context.Context, fn *hook.Func, call *hook.Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(fn.String(), r, debug.Stack())
		}
	}()

	m.mu.Lock()
	m.lastExec[fn] = m.now()
	m.mu.Unlock()

	if herr := fn.Handler(ctx, call); herr != nil {
		return newHandlerError(fn.String(), herr)
	}
	return nil
}

func (m *Manager) observe(fn *hook.Func, call *hook.Call, err error) {
	if m.observer != nil {
		m.observer(fn, call, err)
	}
}

// notifierFunc returns the Func a wiki page's change notifier is invoked
// through, creating it on first use.
func (m *Manager) notifierFunc(page *hook.WikiPage) *hook.Func {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn, ok := m.notifiers[page]; ok {
		return fn
	}
	fn := &hook.Func{
		Name:    page.Name + ".notifier",
		Handler: page.Notifier,
		Source:  page.Source,
		Wiki:    page,
	}
	m.notifiers[page] = fn
	return fn
}
