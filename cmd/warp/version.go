package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	warpversion "github.com/nupi-ai/warp/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the client version",
		Args:  cobra.NoArgs,
		RunE:  runVersion,
	}
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	v := warpversion.String()
	if out.jsonMode {
		return out.Print(map[string]any{
			"client":     v,
			"user_agent": warpversion.UserAgent(),
			"go":         runtime.Version(),
		})
	}
	return out.Print(fmt.Sprintf("warp %s (%s)", warpversion.FormatVersion(v), runtime.Version()))
}
