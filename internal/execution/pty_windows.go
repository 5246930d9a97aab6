//go:build windows

package execution

import (
	"context"
	"errors"
)

func runPTY(context.Context, string, string, Request, *Result) error {
	return errors.New("execution: pty mode is not supported on windows")
}
