package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/warp/internal/app"
	"github.com/nupi-ai/warp/internal/session"
	warpversion "github.com/nupi-ai/warp/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "warp",
		Short: "Warp client - remote agent access from the command line",
		Long: `warp authenticates against the remote service and runs one-shot
operations: local command execution, agent chat and file transfer. Tokens are
kept encrypted in the local vault.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = warpversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	flags := rootCmd.PersistentFlags()
	flags.String("config-dir", "", "Configuration directory (default $WARP_CONFIG_DIR or ./config)")
	flags.String("log-level", "", "Log level override (debug, info, warn, error)")
	flags.Bool("json", false, "Output in JSON format")

	rootCmd.AddCommand(
		newStatusCommand(),
		newAuthCommand(),
		newExecCommand(),
		newHistoryCommand(),
		newChatCommand(),
		newUploadCommand(),
		newDownloadCommand(),
		newTokenCommand(),
		newConfigCommand(),
		newPluginsCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

// openRuntime builds the runtime from the global flags. Callers must
// Shutdown the result.
func openRuntime(cmd *cobra.Command) (*app.Runtime, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")
	logLevel, _ := cmd.Flags().GetString("log-level")
	return app.New(cmd.Context(), app.Options{ConfigDir: configDir, LogLevel: logLevel})
}

// addCredentialFlags registers the flags consumed by login.
func addCredentialFlags(cmd *cobra.Command) {
	cmd.Flags().String("token", "", "Access token to authenticate with")
	cmd.Flags().String("token-name", "", "Name of a vault token to authenticate with")
}

func credentialFromFlags(cmd *cobra.Command, rt *app.Runtime) session.Credential {
	secret, _ := cmd.Flags().GetString("token")
	name, _ := cmd.Flags().GetString("token-name")
	if secret == "" && name == "" {
		name = rt.Config.GetString("authentication.default_token", "")
	}
	return session.Credential{Secret: secret, TokenName: name}
}

// login authenticates when a credential is available. With required unset a
// missing credential is not an error.
func login(cmd *cobra.Command, rt *app.Runtime, required bool) error {
	cred := credentialFromFlags(cmd, rt)
	if !required && cred.Secret == "" && cred.TokenName == "" {
		return nil
	}
	if err := rt.Session.Login(cmd.Context(), cred); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	return nil
}

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
	out      io.Writer
}

func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode, out: cmd.OutOrStdout()}
}

// Print writes strings verbatim and everything else as indented JSON.
func (f *OutputFormatter) Print(data any) error {
	if s, ok := data.(string); ok && !f.jsonMode {
		_, err := fmt.Fprintln(f.out, s)
		return err
	}
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(f.out, string(jsonBytes))
	return err
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]any) error {
	if f.jsonMode {
		output := map[string]any{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	_, err := fmt.Fprintln(f.out, message)
	return err
}

// Printf writes human-readable output; it is suppressed in JSON mode.
func (f *OutputFormatter) Printf(format string, args ...any) {
	if f.jsonMode {
		return
	}
	fmt.Fprintf(f.out, format, args...)
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
