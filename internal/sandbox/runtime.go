package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/vsite/internal/logging"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// ErrClosed is returned for work posted to a closed runtime
var ErrClosed = errors.New("sandbox runtime closed")

// Runtime owns one goja VM and the goroutine that drives it. Every access to
// the VM happens on that goroutine; other goroutines hand work over with Post
// or Do.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	log    *zap.Logger

	mu     sync.Mutex
	jobs   []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}

	console   []LogEntry
	consoleMu sync.Mutex

	timers    map[int64]*time.Timer
	nextTimer int64
}

// NewRuntime creates a VM and starts its loop
func NewRuntime(config Config, log *zap.Logger) *Runtime {
	vm := goja.New()
	if config.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(config.MaxCallStack)
	}

	r := &Runtime{
		vm:     vm,
		config: config,
		log:    log,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		timers: make(map[int64]*time.Timer),
	}
	r.setupGlobals()

	go r.loop()
	return r
}

// VM returns the underlying runtime; only valid on the loop goroutine
func (r *Runtime) VM() *goja.Runtime {
	return r.vm
}

// Post queues fn to run on the loop. It reports false once the runtime is closed.
func (r *Runtime) Post(fn func()) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.jobs = append(r.jobs, fn)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it
func (r *Runtime) Do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !r.Post(func() { errc <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.exited:
		return ErrClosed
	}
}

func (r *Runtime) loop() {
	defer close(r.exited)
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}

		for {
			r.mu.Lock()
			if r.closed || len(r.jobs) == 0 {
				r.mu.Unlock()
				break
			}
			job := r.jobs[0]
			r.jobs[0] = nil
			r.jobs = r.jobs[1:]
			r.mu.Unlock()

			r.run(job)
		}
	}
}

func (r *Runtime) run(job func()) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("sandbox job panicked", zap.Any("panic", v))
		}
	}()
	job()
}

// RunScript executes a script under the configured timeout. Must be called on the loop.
func (r *Runtime) RunScript(name, src string) (goja.Value, error) {
	if r.config.Timeout > 0 {
		timer := time.AfterFunc(r.config.Timeout, func() {
			r.vm.Interrupt("execution timeout exceeded")
		})
		defer func() {
			timer.Stop()
			r.vm.ClearInterrupt()
		}()
	}
	return r.vm.RunScript(name, src)
}

// Call invokes a JavaScript function and converts exceptions to errors. Must be called on the loop.
func (r *Runtime) Call(fn goja.Value, this goja.Value, args ...goja.Value) (goja.Value, error) {
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return goja.Undefined(), fmt.Errorf("not a function: %s", fn)
	}
	return callable(this, args...)
}

// Console returns a copy of the captured console output
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry(nil), r.console...)
}

// Close stops the loop, interrupting any running script
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.jobs = nil
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()

	r.vm.Interrupt("sandbox disposed")
	close(r.done)
	<-r.exited
	return nil
}

// setupGlobals configures global objects and removes host escape hatches
func (r *Runtime) setupGlobals() {
	r.vm.Set("require", goja.Undefined())
	r.vm.Set("process", goja.Undefined())
	r.vm.Set("module", goja.Undefined())
	r.vm.Set("exports", goja.Undefined())

	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug", "trace"} {
		console.Set(level, r.makeConsoleFunc(level))
	}
	r.vm.Set("console", console)

	r.vm.Set("setTimeout", r.makeTimerFunc(false))
	r.vm.Set("setInterval", r.makeTimerFunc(true))
	r.vm.Set("clearTimeout", r.clearTimer)
	r.vm.Set("clearInterval", r.clearTimer)
	r.vm.Set("queueMicrotask", func(call goja.FunctionCall) goja.Value {
		fn := call.Argument(0)
		r.Post(func() { r.invoke("microtask", fn) })
		return goja.Undefined()
	})
}

func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		if r.config.EnableConsole {
			r.consoleMu.Lock()
			r.console = append(r.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
			r.consoleMu.Unlock()
		}
		if ce := r.log.Check(logging.ConsoleLevel(level), "console"); ce != nil {
			ce.Write(zap.String("method", level), zap.String("message", msg))
		}
		return goja.Undefined()
	}
}

func (r *Runtime) makeTimerFunc(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn := call.Argument(0)
		if _, ok := goja.AssertFunction(fn); !ok {
			return r.vm.ToValue(0)
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		if delay < 0 {
			delay = 0
		}
		var extra []goja.Value
		if len(call.Arguments) > 2 {
			extra = call.Arguments[2:]
		}

		r.mu.Lock()
		r.nextTimer++
		id := r.nextTimer
		r.mu.Unlock()

		var fire func()
		fire = func() {
			r.Post(func() {
				r.mu.Lock()
				_, live := r.timers[id]
				if live && !repeat {
					delete(r.timers, id)
				}
				r.mu.Unlock()
				if !live {
					return
				}
				r.invoke("timer", fn, extra...)
				if !repeat {
					return
				}
				r.mu.Lock()
				_, live = r.timers[id]
				r.mu.Unlock()
				if live {
					r.schedule(id, delay, fire)
				}
			})
		}
		r.schedule(id, delay, fire)
		return r.vm.ToValue(id)
	}
}

func (r *Runtime) schedule(id int64, delay time.Duration, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	r.timers[id] = time.AfterFunc(delay, fire)
}

func (r *Runtime) clearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	r.mu.Lock()
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()
	return goja.Undefined()
}

// invoke calls fn and logs, rather than propagates, a thrown exception
func (r *Runtime) invoke(what string, fn goja.Value, args ...goja.Value) {
	if _, err := r.Call(fn, goja.Undefined(), args...); err != nil {
		r.log.Warn("sandbox callback failed", zap.String("callback", what), zap.Error(err))
	}
}
