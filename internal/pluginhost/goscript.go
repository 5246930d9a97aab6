package pluginhost

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/eventbus"
)

// goInitializer is the entry point a Go script plugin must declare:
//
//	func Initialize(host map[string]any) (any, error)
type goInitializer = func(map[string]any) (any, error)

// loadGoScript interprets a single-file Go plugin with the standard library
// available and calls its Initialize function.
func loadGoScript(ctx context.Context, path string, host *pluginHost, initTimeout time.Duration) (any, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	code, err := normalizeGoSource(path, string(src))
	if err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	if _, err := i.Eval(code); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", path, err)
	}
	entry, err := i.Eval("main.Initialize")
	if err != nil {
		return nil, fmt.Errorf("%s: missing Initialize function: %w", path, err)
	}
	initFn, ok := entry.Interface().(goInitializer)
	if !ok {
		return nil, fmt.Errorf("%s: Initialize has signature %s, expected func(map[string]any) (any, error)", path, entry.Type())
	}

	type outcome struct {
		handle any
		err    error
	}
	result := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- outcome{err: fmt.Errorf("%s: Initialize panicked: %v", path, r)}
			}
		}()
		handle, err := initFn(goHostMap(host))
		result <- outcome{handle, err}
	}()

	timer := time.NewTimer(initTimeout)
	defer timer.Stop()
	select {
	case out := <-result:
		if out.err != nil {
			return nil, fmt.Errorf("%s: Initialize: %w", path, out.err)
		}
		return out.handle, nil
	case <-timer.C:
		abandon(host, path)
		return nil, fmt.Errorf("%s: Initialize did not finish within %s", path, initTimeout)
	case <-ctx.Done():
		abandon(host, path)
		return nil, ctx.Err()
	}
}

// abandon records that an interpreted Initialize is still running. yaegi
// cannot interrupt interpreted code, so its goroutine lives until the
// function returns; the host ignores its later calls once released.
func abandon(host *pluginHost, path string) {
	host.logger.Warn("abandoning go plugin initializer; interpreter goroutine keeps running",
		zap.String("path", path))
}

// normalizeGoSource wraps a bare function file in package main and rejects
// any other package name.
func normalizeGoSource(path, src string) (string, error) {
	file, err := parser.ParseFile(token.NewFileSet(), path, src, parser.PackageClauseOnly)
	if err != nil {
		// No package clause; syntax errors surface when the wrapped file is
		// evaluated.
		return "package main\n\n" + src, nil
	}
	if name := file.Name.Name; name != "main" {
		return "", fmt.Errorf("%s: package %s, expected package main", path, name)
	}
	return src, nil
}

// goHostMap exposes the host to interpreted code as plain functions, which
// interpreted code can type-assert without importing this module.
func goHostMap(h *pluginHost) map[string]any {
	return map[string]any{
		"name": h.name,
		"status": func() map[string]any {
			return statusData(h.Status())
		},
		"execute_command": func(command, workingDir string) map[string]any {
			return commandData(h.ExecuteCommand(h.ctx, command, workingDir))
		},
		"chat": func(message string, chatContext map[string]any) (map[string]any, error) {
			return h.ChatWithAgent(h.ctx, message, chatContext)
		},
		"send_message": func(v any) error {
			return h.SendMessage(v)
		},
		"subscribe": func(topic string, fn func(map[string]any)) {
			h.Subscribe(eventbus.Topic(topic), func(env eventbus.Envelope) {
				fn(eventData(env))
			})
		},
		"config": func(path string) any {
			v, _ := h.Config(path)
			return v
		},
		"log": func(level, msg string) {
			h.logAt(level, msg)
		},
	}
}
