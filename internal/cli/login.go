package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/isometry/ad-auth-bridge/internal/auth"
)

func newLoginCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "login USERNAME",
		Short: "Authenticate a user once and provision their local account",
		Long: `Authenticate a user once, exactly as the HTTP login would, and print the outcome.

The password is prompted for without echo when standard input is a terminal,
otherwise it is read from the first line of standard input.

Examples:
  # Interactive check
  adbridge login jdoe

  # Prompt-free check from a script
  printf '%s\n' "$PASSWORD" | adbridge login jdoe`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadConfig(cmd.Context(), configPath())
			if err != nil {
				return err
			}

			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			result := a.orchestrator.Authenticate(ctx, auth.Request{
				Username: args[0],
				Password: password,
			})

			if rejection, rejected := result.Rejection(); rejected {
				return fmt.Errorf("login rejected (%s): %s", rejection.Kind, rejection.UserMessage())
			}

			identity, _ := result.Identity()
			source := "directory"
			if identity.Native() {
				source = "native"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Login accepted: %s (id %s, %s)\n", identity.LocalUser.Login, identity.LocalUser.ID, source)
			for _, group := range identity.LocalUser.Groups {
				fmt.Fprintf(cmd.OutOrStdout(), "  group: %s\n", group.Name)
			}
			return nil
		},
	}
}

// readPassword prompts without echo on a terminal and falls back to the
// first line of standard input for piped input.
func readPassword(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(password), nil
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password from standard input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
