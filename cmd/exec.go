package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"kubelink/internal/podexec"
	"kubelink/pkg/logging"
)

// streamFlags are the flags shared by exec and attach.
type streamFlags struct {
	container string
	stdin     bool
	tty       bool
}

func (f *streamFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.container, "container", "c", "", "Container name; defaults to the only container of the pod")
	cmd.Flags().BoolVarP(&f.stdin, "stdin", "i", false, "Pass stdin to the container")
	cmd.Flags().BoolVarP(&f.tty, "tty", "t", false, "Stdin is a TTY")
}

type openSessionFunc func(ctx context.Context, opts podexec.StreamOptions) (*podexec.Session, error)

func newExecCmd() *cobra.Command {
	var flags streamFlags
	cmd := &cobra.Command{
		Use:   "exec POD -- COMMAND [args...]",
		Short: "Execute a command in a container",
		Long: `Runs COMMAND in a container of POD and streams its output back.
Use -i to pass stdin and -t to allocate a terminal. The exit code of the
remote command becomes the exit code of kubelink.`,
		Example: `  kubelink exec nginx-0 -- ls -l /
  kubelink exec -it nginx-0 -c nginx -- sh`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errors.New("a pod name is required")
			}
			if len(args) < 2 {
				return errors.New("a command is required after the pod name, e.g. kubelink exec POD -- ls")
			}
			if dash := cmd.ArgsLenAtDash(); dash > 1 {
				return fmt.Errorf("exactly one pod name is expected before --, got %d arguments", dash)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApplication()
			if err != nil {
				return err
			}
			defer a.Shutdown()

			pod, command := args[0], args[1:]
			ns := a.Namespace()
			logging.Debug("CLI", "Exec %v in %s/%s", command, ns, pod)
			return runStream(cmd, flags, func(ctx context.Context, opts podexec.StreamOptions) (*podexec.Session, error) {
				return a.PodExec().Exec(ctx, ns, pod, flags.container, command, opts)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newAttachCmd() *cobra.Command {
	var flags streamFlags
	cmd := &cobra.Command{
		Use:   "attach POD",
		Short: "Attach to a running container",
		Long: `Attaches to the main process of a container in POD, streaming its
output. Use -i to pass stdin and -t when the container has a terminal.`,
		Example: `  kubelink attach nginx-0
  kubelink attach -it debug-shell -c shell`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApplication()
			if err != nil {
				return err
			}
			defer a.Shutdown()

			pod := args[0]
			ns := a.Namespace()
			logging.Debug("CLI", "Attach to %s/%s", ns, pod)
			return runStream(cmd, flags, func(ctx context.Context, opts podexec.StreamOptions) (*podexec.Session, error) {
				return a.PodExec().Attach(ctx, ns, pod, flags.container, opts)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// runStream wires the command's streams to a new session and waits for it.
// With -t on a real terminal the terminal is switched to raw mode for the
// lifetime of the session.
func runStream(cmd *cobra.Command, flags streamFlags, open openSessionFunc) error {
	opts := podexec.StreamOptions{
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	}
	var in io.Reader
	if flags.stdin {
		in = cmd.InOrStdin()
		opts.Stdin = in
	}

	if flags.tty {
		if in == nil {
			logging.Warn("CLI", "-t requested without -i; no input will be sent")
			in = cmd.InOrStdin()
		}
		terminal, ok, err := setupRawTerminal(in)
		switch {
		case err != nil:
			return fmt.Errorf("failed to set up terminal: %w", err)
		case !ok:
			logging.Warn("CLI", "Unable to use a TTY: input is not a terminal")
		default:
			defer terminal.Restore()
			opts.TTY = true
			opts.TerminalSizeQueue = terminal.sizes
		}
	}

	session, err := open(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Wait()
}

// exitCode maps a command error to the process exit code, passing through
// the exit code of a remote command.
func exitCode(err error) int {
	var exitErr *podexec.ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}
