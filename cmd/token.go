package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
)

// For mocking in tests
var clipboardWriteAll = clipboard.WriteAll

func newTokenCmd() *cobra.Command {
	var copyToClipboard bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the bearer token of the active user",
		Long: `Prints the bearer token of the user of the active context. An expired
auth-provider token is refreshed first by running the configured command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApplication()
			if err != nil {
				return err
			}
			defer a.Shutdown()

			header, err := a.Resolver().ResolveToken(cmd.Context())
			if err != nil {
				return err
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" {
				return errors.New("the active user has no token")
			}

			if copyToClipboard {
				if err := clipboardWriteAll(token); err != nil {
					return fmt.Errorf("failed to copy token to clipboard: %w", err)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "Token copied to clipboard.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&copyToClipboard, "copy", false, "Copy the token to the clipboard instead of printing it")
	return cmd
}
