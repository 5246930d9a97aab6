package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/warp/internal/pluginhost"
)

func newPluginsCommand() *cobra.Command {
	pluginsCmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect plugins",
	}
	pluginsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Load builtin and directory plugins and list the ones that activated",
		Args:  cobra.NoArgs,
		RunE:  runPluginsList,
	})
	return pluginsCmd
}

func runPluginsList(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	loadErr := rt.LoadPlugins(cmd.Context())
	var plugins []*pluginhost.Plugin
	for _, name := range rt.Plugins.Modules() {
		if p, ok := rt.Plugins.Plugin(name); ok {
			plugins = append(plugins, p)
		}
	}

	out := newOutputFormatter(cmd)
	if out.jsonMode {
		items := make([]map[string]any, 0, len(plugins))
		for _, p := range plugins {
			items = append(items, map[string]any{
				"name":          p.Name,
				"kind":          p.Kind,
				"path":          p.Path,
				"activation_id": p.ActivationID,
			})
		}
		data := map[string]any{
			"plugins":   items,
			"directory": pluginhost.ModulesDir(rt.Config),
		}
		if loadErr != nil {
			data["errors"] = loadErr.Error()
		}
		return out.Print(data)
	}

	if loadErr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", loadErr)
	}
	if len(plugins) == 0 {
		return out.Print("No plugins loaded from " + pluginhost.ModulesDir(rt.Config))
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tPATH")
	for _, p := range plugins {
		path := p.Path
		if path == "" {
			path = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Kind, path)
	}
	return w.Flush()
}
