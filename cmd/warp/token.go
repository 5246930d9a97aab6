package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/nupi-ai/warp/internal/validate"
)

func newTokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens in the encrypted vault",
	}

	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Store a token (read from the terminal without echo, or from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE:  runTokenAdd,
	}
	addCmd.Flags().String("description", "", "Optional description stored with the token")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored token names",
		Args:  cobra.NoArgs,
		RunE:  runTokenList,
	}

	removeCmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a stored token",
		Args:    cobra.ExactArgs(1),
		RunE:    runTokenRemove,
	}

	tokenCmd.AddCommand(addCmd, listCmd, removeCmd)
	return tokenCmd
}

// readSecret prompts on an interactive terminal with echo disabled and falls
// back to reading one line from in.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if cmd.InOrStdin() == os.Stdin && terminal.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		secret, err := terminal.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func runTokenAdd(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	if !validate.Name(name) {
		return fmt.Errorf("invalid token name %q: use letters, digits, dots, hyphens and underscores", name)
	}
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	secret, err := readSecret(cmd, fmt.Sprintf("Token for %s: ", name))
	if err != nil {
		return err
	}
	if secret == "" {
		return errors.New("empty token")
	}

	var metadata map[string]any
	if desc, _ := cmd.Flags().GetString("description"); desc != "" {
		metadata = map[string]any{"description": desc}
	}
	if err := rt.Vault.AddToken(name, secret, metadata); err != nil {
		return err
	}
	return newOutputFormatter(cmd).Success(fmt.Sprintf("Token %q stored", name), map[string]any{"name": name})
}

func runTokenList(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	names := rt.Vault.ListTokens()
	out := newOutputFormatter(cmd)
	if out.jsonMode {
		items := make([]map[string]any, 0, len(names))
		for _, name := range names {
			tok, _ := rt.Vault.Token(name)
			items = append(items, map[string]any{
				"name":       name,
				"created_at": tok.CreatedAt,
				"metadata":   tok.Metadata,
			})
		}
		return out.Print(items)
	}
	if len(names) == 0 {
		return out.Print("No tokens stored")
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCREATED")
	for _, name := range names {
		created := "-"
		if tok, ok := rt.Vault.Token(name); ok && !tok.CreatedAt.IsZero() {
			created = tok.CreatedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\n", name, created)
	}
	return w.Flush()
}

func runTokenRemove(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	if err := rt.Vault.RemoveToken(args[0]); err != nil {
		return err
	}
	return newOutputFormatter(cmd).Success(fmt.Sprintf("Token %q removed", args[0]), map[string]any{"name": args[0]})
}
