package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection, metrics, features and endpoints",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	if err := rt.LoadPlugins(cmd.Context()); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}
	st := rt.Session.Status()
	out := newOutputFormatter(cmd)
	if out.jsonMode {
		return out.Print(st)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Connected:\t%t\n", st.Connection.Connected)
	fmt.Fprintf(w, "Authenticated:\t%t\n", st.Connection.Authenticated)
	fmt.Fprintf(w, "Requests:\t%d (%d ok, %d failed, %.1f%% success)\n",
		st.Metrics.Total, st.Metrics.Successful, st.Metrics.Failed, st.Metrics.SuccessRate)
	fmt.Fprintf(w, "Tokens:\t%s\n", listOrNone(st.Tokens))
	fmt.Fprintf(w, "Plugins:\t%s\n", listOrNone(st.Modules))

	features := make([]string, 0, len(st.Features))
	for name, enabled := range st.Features {
		state := "off"
		if enabled {
			state = "on"
		}
		features = append(features, name+"="+state)
	}
	sort.Strings(features)
	fmt.Fprintf(w, "Features:\t%s\n", listOrNone(features))

	names := make([]string, 0, len(st.Endpoints))
	for name := range st.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "Endpoint %s:\t%s\n", name, st.Endpoints[name])
	}
	return w.Flush()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate against the remote service",
		Long: `Exchange a token for a session credential. The token is taken from
--token, from the vault entry named by --token-name, or from
authentication.default_token.`,
		Args: cobra.NoArgs,
		RunE: runAuth,
	}
	addCredentialFlags(cmd)
	return cmd
}

func runAuth(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	if err := login(cmd, rt, true); err != nil {
		return err
	}
	return newOutputFormatter(cmd).Success("Authenticated", map[string]any{"authenticated": true})
}

func newExecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <command>",
		Short: "Execute a shell command locally",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExec,
	}
	cmd.Flags().StringP("workdir", "C", "", "Working directory for the command")
	return cmd
}

func runExec(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	workdir, _ := cmd.Flags().GetString("workdir")
	result := rt.Session.ExecuteCommand(cmd.Context(), joinArgs(args), workdir)

	out := newOutputFormatter(cmd)
	if out.jsonMode {
		data := map[string]any{
			"command":        result.Command,
			"exit_code":      result.ExitCode,
			"stdout":         result.Stdout,
			"stderr":         result.Stderr,
			"execution_time": result.Elapsed.Seconds(),
			"working_dir":    result.WorkingDir,
		}
		if result.Err != nil {
			data["error"] = result.Err.Error()
		}
		if err := out.Print(data); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), result.Stdout)
		fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)
	}

	switch {
	case result.Err != nil:
		return result.Err
	case result.ExitCode != 0:
		return fmt.Errorf("command exited with code %d", result.ExitCode)
	}
	return nil
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently executed commands",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of entries to show")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := rt.Session.RecentCommands(cmd.Context(), limit)
	if err != nil {
		return err
	}

	out := newOutputFormatter(cmd)
	if out.jsonMode {
		return out.Print(entries)
	}
	if len(entries) == 0 {
		return out.Print("No commands recorded")
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEXIT\tDURATION\tCOMMAND")
	for _, e := range entries {
		exit := fmt.Sprintf("%d", e.ExitCode)
		if e.TimedOut {
			exit = "timeout"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.StartedAt.Local().Format(time.DateTime), exit, e.Duration.Round(time.Millisecond), e.Command)
	}
	return w.Flush()
}

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send a message to the remote agent",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runChat,
	}
	addCredentialFlags(cmd)
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	if err := login(cmd, rt, false); err != nil {
		return err
	}
	resp, err := rt.Session.ChatWithAgent(cmd.Context(), joinArgs(args), nil)
	if err != nil {
		return err
	}

	out := newOutputFormatter(cmd)
	if !out.jsonMode {
		for _, key := range []string{"response", "message", "content"} {
			if text, ok := resp[key].(string); ok {
				return out.Print(text)
			}
		}
	}
	return out.Print(resp)
}

func newUploadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpload,
	}
	addCredentialFlags(cmd)
	cmd.Flags().StringToString("meta", nil, "Metadata key=value pairs sent with the file")
	return cmd
}

func runUpload(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	if err := login(cmd, rt, false); err != nil {
		return err
	}
	meta, _ := cmd.Flags().GetStringToString("meta")
	var metadata map[string]any
	if len(meta) > 0 {
		metadata = make(map[string]any, len(meta))
		for k, v := range meta {
			metadata[k] = v
		}
	}

	resp, err := rt.Session.UploadFile(cmd.Context(), args[0], metadata)
	if err != nil {
		return err
	}
	out := newOutputFormatter(cmd)
	if out.jsonMode {
		return out.Print(resp)
	}
	if id, ok := resp["file_id"]; ok {
		return out.Print(fmt.Sprintf("Uploaded %s (file id %v)", args[0], id))
	}
	return out.Print(resp)
}

func newDownloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <file-id> <destination>",
		Short: "Download a remote file",
		Args:  cobra.ExactArgs(2),
		RunE:  runDownload,
	}
	addCredentialFlags(cmd)
	return cmd
}

func runDownload(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	if err := login(cmd, rt, false); err != nil {
		return err
	}
	result, err := rt.Session.DownloadFile(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	return newOutputFormatter(cmd).Success(
		fmt.Sprintf("Downloaded %s to %s (%d bytes)", result.FileID, result.SavePath, result.Size),
		map[string]any{"file_id": result.FileID, "save_path": result.SavePath, "size": result.Size},
	)
}
