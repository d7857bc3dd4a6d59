package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"kubelink/internal/color"
	"kubelink/internal/config"
	"kubelink/internal/kubeconfig"
)

// For mocking in tests
var setUserContext = config.SetUserContext

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the kubeconfig and select contexts",
	}
	cmd.AddCommand(newConfigViewCmd())
	cmd.AddCommand(newConfigGetContextsCmd())
	cmd.AddCommand(newConfigCurrentContextCmd())
	cmd.AddCommand(newConfigUseContextCmd())
	return cmd
}

func newConfigViewCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Print the loaded kubeconfig",
		Long: `Prints the loaded kubeconfig as YAML. Secrets such as tokens, passwords,
client keys and auth-provider tokens are redacted unless --raw is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApplication()
			if err != nil {
				return err
			}
			defer a.Shutdown()

			data, err := a.Store().Marshal(!raw)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print secrets")
	return cmd
}

func newConfigGetContextsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-contexts",
		Short: "List the contexts of the kubeconfig",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApplication()
			if err != nil {
				return err
			}
			defer a.Shutdown()

			renderContextTable(cmd.OutOrStdout(), a.Store())
			return nil
		},
	}
}

func newConfigCurrentContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current-context",
		Short: "Print the active context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApplication()
			if err != nil {
				return err
			}
			defer a.Shutdown()

			fmt.Fprintln(cmd.OutOrStdout(), a.Store().CurrentContext())
			return nil
		},
	}
}

func newConfigUseContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-context NAME",
		Short: "Make NAME the default context of kubelink",
		Long: `Records NAME as the default context in the kubelink user settings
(~/.config/kubelink/config.yaml). The kubeconfig file itself is not modified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApplication()
			if err != nil {
				return err
			}
			defer a.Shutdown()

			name := args[0]
			if _, ok := a.Store().GetContextObject(name); !ok {
				return fmt.Errorf("%w: %q", kubeconfig.ErrContextNotFound, name)
			}
			path, err := setUserContext(name)
			if err != nil {
				return fmt.Errorf("failed to save context: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q (saved in %s).\n", name, path)
			return nil
		},
	}
}

// renderContextTable writes one row per context, marking the active one.
// Columns are padded by display width so wide names stay aligned.
func renderContextTable(w io.Writer, store *kubeconfig.Store) {
	header := []string{"CURRENT", "NAME", "CLUSTER", "AUTHINFO", "NAMESPACE"}
	rows := [][]string{}
	current := store.CurrentContext()
	for _, ctx := range store.Contexts() {
		mark := ""
		if ctx.Name == current {
			mark = "*"
		}
		rows = append(rows, []string{mark, ctx.Name, ctx.Cluster, ctx.User, ctx.Namespace})
	}

	widths := make([]int, len(header))
	for _, row := range append([][]string{header}, rows...) {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	format := func(row []string) string {
		cells := make([]string, len(row))
		for i, cell := range row {
			if i == len(row)-1 {
				cells[i] = cell
				continue
			}
			cells[i] = runewidth.FillRight(cell, widths[i])
		}
		return strings.TrimRight(strings.Join(cells, "   "), " ")
	}

	palette := color.For(w)
	fmt.Fprintln(w, palette.Header.Render(format(header)))
	for _, row := range rows {
		line := format(row)
		if row[0] == "*" {
			line = palette.Success.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}
