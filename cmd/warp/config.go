package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/warp/internal/app"
	"github.com/nupi-ai/warp/internal/config"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the layered configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the bundled default layer into the configuration directory",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}

	getCmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Print the value at a dotted path",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigGet,
	}

	setCmd := &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set a value in the user layer (JSON literals are decoded)",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigSet,
	}
	setCmd.Flags().Bool("encrypt", false, "Store the value in the encrypted overlay instead of the user layer")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the merged configuration for required sections and fields",
		Args:  cobra.NoArgs,
		RunE:  runConfigValidate,
	}

	exportCmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export the merged configuration (format follows the file extension)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigExport,
	}
	exportCmd.Flags().Bool("include-sensitive", false, "Keep token file location and security settings")

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a configuration document into the user layer",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigImport,
	}
	importCmd.Flags().Bool("replace", false, "Replace the configuration instead of merging")

	configCmd.AddCommand(initCmd, getCmd, setCmd, validateCmd, exportCmd, importCmd)
	return configCmd
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	configDir, _ := cmd.Flags().GetString("config-dir")
	path, err := app.InitConfigDir(config.ResolveDir(configDir))
	if errors.Is(err, app.ErrAlreadyInitialised) {
		return fmt.Errorf("%s already exists", path)
	}
	if err != nil {
		return err
	}
	return newOutputFormatter(cmd).Success("Wrote "+path, map[string]any{"path": path})
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	value, ok := rt.Config.Get(args[0])
	if !ok {
		return fmt.Errorf("%s is not set", args[0])
	}
	return newOutputFormatter(cmd).Print(value)
}

// parseValue decodes JSON literals (numbers, booleans, null, objects, arrays
// and quoted strings); anything else is taken as a plain string.
func parseValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		return value
	}
	return raw
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	path := strings.TrimSpace(args[0])
	if path == "" {
		return errors.New("empty configuration path")
	}

	encrypt, _ := cmd.Flags().GetBool("encrypt")
	if encrypt {
		if err := rt.Config.SaveEncryptedValue(path, args[1]); err != nil {
			return err
		}
		return newOutputFormatter(cmd).Success(fmt.Sprintf("Stored encrypted %s", path), map[string]any{"path": path})
	}

	value := parseValue(args[1])
	rt.Config.Set(path, value)
	if !rt.Config.Validate() {
		return fmt.Errorf("setting %s would leave the configuration invalid", path)
	}
	if err := rt.Config.SaveUser(); err != nil {
		return err
	}
	return newOutputFormatter(cmd).Success(fmt.Sprintf("Set %s", path), map[string]any{"path": path, "value": value})
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	if !rt.Config.Validate() {
		return errors.New("configuration is invalid")
	}
	if err := rt.Config.CheckEndpoints(); err != nil {
		return err
	}
	return newOutputFormatter(cmd).Success("Configuration is valid", map[string]any{"valid": true})
}

func runConfigExport(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	includeSensitive, _ := cmd.Flags().GetBool("include-sensitive")
	tree := rt.Config.ExportSanitized(includeSensitive)
	if len(args) == 0 {
		return newOutputFormatter(cmd).Print(tree)
	}

	dest := config.ExpandPath(args[0])
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	if err := config.WriteDocument(dest, tree, 0o600); err != nil {
		return err
	}
	return newOutputFormatter(cmd).Success("Exported configuration to "+dest, map[string]any{"path": dest})
}

func runConfigImport(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	tree, err := config.ReadDocument(config.ExpandPath(args[0]))
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	replace, _ := cmd.Flags().GetBool("replace")
	if err := rt.Config.Import(tree, !replace); err != nil {
		return err
	}
	if err := rt.Config.SaveUser(); err != nil {
		return err
	}
	return newOutputFormatter(cmd).Success("Imported "+args[0], nil)
}
