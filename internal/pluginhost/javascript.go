package pluginhost

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/constants"
	"github.com/nupi-ai/warp/internal/eventbus"
)

var errUnloaded = errors.New("plugin unloaded")

// jsPlugin owns a goja runtime. A runtime is not safe for concurrent use, so
// every call into it, including event callbacks published from other
// goroutines, runs on the plugin's loop goroutine.
type jsPlugin struct {
	host  *pluginHost
	vm    *goja.Runtime
	queue chan func()
	done  chan struct{}
	exit  chan struct{}
	stop  sync.Once
}

func loadJavaScript(path string, host *pluginHost, initTimeout time.Duration) (*jsPlugin, any, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	p := &jsPlugin{
		host:  host,
		vm:    goja.New(),
		queue: make(chan func(), constants.PluginEventQueueSize),
		done:  make(chan struct{}),
		exit:  make(chan struct{}),
	}
	go p.loop()

	type outcome struct {
		handle any
		err    error
	}
	result := make(chan outcome, 1)
	if !p.post(func() {
		handle, err := p.initialize(path, string(src), initTimeout)
		result <- outcome{handle, err}
	}) {
		p.close()
		return nil, nil, errUnloaded
	}
	out := <-result
	if out.err != nil {
		p.close()
		return nil, nil, out.err
	}
	return p, out.handle, nil
}

func (p *jsPlugin) loop() {
	defer close(p.exit)
	for {
		select {
		case <-p.done:
			return
		case fn := <-p.queue:
			p.run(fn)
		}
	}
}

func (p *jsPlugin) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.host.logger.Error("javascript plugin panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// post queues fn for the loop. It never blocks: when the queue is full the
// call is dropped and reported.
func (p *jsPlugin) post(fn func()) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.queue <- fn:
		return true
	default:
		p.host.logger.Warn("javascript plugin queue full; dropping call")
		return false
	}
}

func (p *jsPlugin) initialize(path, src string, timeout time.Duration) (any, error) {
	vm := p.vm
	module := vm.NewObject()
	exports := vm.NewObject()
	_ = module.Set("exports", exports)
	_ = vm.Set("module", module)
	_ = vm.Set("exports", exports)
	_ = vm.Set("console", p.console())

	defer vm.ClearInterrupt()
	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt(fmt.Sprintf("initialize did not finish within %s", timeout))
	})
	defer timer.Stop()

	if _, err := vm.RunScript(path, src); err != nil {
		return nil, fmt.Errorf("execute %s: %w", path, err)
	}

	initFn, ok := goja.AssertFunction(p.entryPoint())
	if !ok {
		return nil, fmt.Errorf("%s: missing initialize function", path)
	}
	ret, err := initFn(goja.Undefined(), p.hostObject())
	if err != nil {
		return nil, fmt.Errorf("%s: initialize: %w", path, err)
	}
	if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
		return nil, nil
	}
	return ret.Export(), nil
}

// entryPoint finds initialize as a global or on module.exports.
func (p *jsPlugin) entryPoint() goja.Value {
	if fn := p.vm.Get("initialize"); fn != nil && !goja.IsUndefined(fn) {
		return fn
	}
	module := p.vm.Get("module")
	if module == nil || goja.IsUndefined(module) || goja.IsNull(module) {
		return nil
	}
	exports := module.ToObject(p.vm).Get("exports")
	if exports == nil || goja.IsUndefined(exports) || goja.IsNull(exports) {
		return nil
	}
	return exports.ToObject(p.vm).Get("initialize")
}

func (p *jsPlugin) console() *goja.Object {
	obj := p.vm.NewObject()
	for _, level := range []string{"debug", "info", "warn", "error"} {
		_ = obj.Set(level, func(call goja.FunctionCall) goja.Value {
			p.host.logAt(level, joinArgs(call.Arguments))
			return goja.Undefined()
		})
	}
	_ = obj.Set("log", obj.Get("info"))
	return obj
}

func joinArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = arg.String()
	}
	return strings.Join(parts, " ")
}

func (p *jsPlugin) hostObject() *goja.Object {
	vm := p.vm
	h := p.host
	obj := vm.NewObject()
	_ = obj.Set("name", h.name)

	_ = obj.Set("status", func() map[string]any {
		return statusData(h.Status())
	})
	_ = obj.Set("executeCommand", func(command, workingDir string) map[string]any {
		return commandData(h.ExecuteCommand(h.ctx, command, workingDir))
	})
	_ = obj.Set("chat", func(message string, chatContext map[string]any) map[string]any {
		resp, err := h.ChatWithAgent(h.ctx, message, chatContext)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return resp
	})
	_ = obj.Set("sendMessage", func(v any) bool {
		if err := h.SendMessage(v); err != nil {
			h.logger.Warn("plugin message not sent", zap.Error(err))
			return false
		}
		return true
	})
	_ = obj.Set("config", func(path string) any {
		v, _ := h.Config(path)
		return v
	})
	_ = obj.Set("log", func(level, msg string) {
		h.logAt(level, msg)
	})
	_ = obj.Set("subscribe", func(topic string, handler goja.Value) {
		fn, ok := goja.AssertFunction(handler)
		if !ok {
			panic(vm.NewTypeError("subscribe: handler for %q is not a function", topic))
		}
		h.Subscribe(eventbus.Topic(topic), func(env eventbus.Envelope) {
			data := eventData(env)
			p.post(func() {
				if _, err := fn(goja.Undefined(), vm.ToValue(data)); err != nil {
					h.logger.Warn("plugin event handler failed", zap.String("topic", topic), zap.Error(err))
				}
			})
		})
	})
	return obj
}

// close stops the loop, interrupting a running script, and waits a bounded
// time for it to exit.
func (p *jsPlugin) close() {
	p.stop.Do(func() {
		close(p.done)
		p.vm.Interrupt(errUnloaded)
		select {
		case <-p.exit:
		case <-time.After(constants.PluginUnloadTimeout):
			p.host.logger.Warn("javascript plugin did not stop in time")
		}
	})
}
