package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kubelink/internal/config"
	"kubelink/internal/portforwarding"
)

const shutdownTimeout = 5 * time.Second

// For mocking in tests
var notifyContext = func(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newPortForwardCmd() *cobra.Command {
	var (
		address string
		all     bool
	)
	cmd := &cobra.Command{
		Use:   "port-forward POD [LOCAL_PORT:]REMOTE_PORT",
		Short: "Forward a local port to a pod",
		Long: `Listens on a local port and forwards every connection to a port of POD.
A LOCAL_PORT of 0 or an empty LOCAL_PORT (":80") picks a free port.

With --all, every enabled forward from the settings files is started instead
and kept running until interrupted.`,
		Example: `  kubelink port-forward grafana-0 3000
  kubelink port-forward -n monitoring prometheus-0 9091:9090
  kubelink port-forward --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				if len(args) > 0 {
					return errors.New("--all does not take arguments")
				}
				return nil
			}
			if len(args) != 2 {
				return errors.New("expected POD and one [LOCAL_PORT:]REMOTE_PORT; sessions forward a single port")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApplication()
			if err != nil {
				return err
			}
			defer a.Shutdown()

			var defs []config.PortForwardDefinition
			if all {
				defs = a.PortForwardDefinitions()
				if len(defs) == 0 {
					return errors.New("no enabled port forwards found in the kubelink settings")
				}
			} else {
				localPort, remotePort, err := parsePortSpec(args[1])
				if err != nil {
					return err
				}
				defs = []config.PortForwardDefinition{{
					Name:        args[0],
					Enabled:     true,
					Namespace:   a.Namespace(),
					Pod:         args[0],
					LocalPort:   localPort,
					RemotePort:  remotePort,
					BindAddress: address,
				}}
			}

			ctx, stop := notifyContext(cmd.Context())
			defer stop()

			// Every forward ends with exactly one Stopped or Failed report.
			ended := make(chan struct{}, len(defs))
			printUpdate := portforwarding.NewCLIUpdater(cmd.ErrOrStderr())
			update := func(label string, detail portforwarding.PortForwardStatusDetail, isReady bool, err error) {
				printUpdate(label, detail, isReady, err)
				if detail == portforwarding.StatusDetailStopped || detail == portforwarding.StatusDetailFailed {
					select {
					case ended <- struct{}{}:
					default:
					}
				}
			}

			stopAll := make(chan struct{})
			infos, err := portforwarding.StartAllConfiguredPortForwards(defs, a.ForwarderFor, update, stopAll)
			running := 0
			for _, info := range infos {
				if info.InitialError == nil {
					running++
					fmt.Fprintf(cmd.OutOrStdout(), "Forwarding from %s -> %s/%s:%d\n", info.LocalAddr, info.Config.Namespace, info.Config.Pod, info.Config.RemotePort)
				}
			}
			if running == 0 {
				close(stopAll)
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Some port forwards failed to start:\n%v\n", err)
			}

			<-ctx.Done()
			close(stopAll)
			waitEnded(ended, len(defs), shutdownTimeout)
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", config.DefaultBindAddress, "Local address to listen on")
	cmd.Flags().BoolVar(&all, "all", false, "Start all enabled port forwards from the settings files")
	return cmd
}

// waitEnded waits for n end reports or until timeout.
func waitEnded(ended <-chan struct{}, n int, timeout time.Duration) {
	deadline := time.After(timeout)
	for range n {
		select {
		case <-ended:
		case <-deadline:
			return
		}
	}
}

// parsePortSpec parses "REMOTE", ":REMOTE" or "LOCAL:REMOTE". A bare REMOTE
// listens on the same local port.
func parsePortSpec(spec string) (int, int, error) {
	localStr, remoteStr, hasLocal := strings.Cut(spec, ":")
	if !hasLocal {
		remoteStr = localStr
	}

	remote, err := parsePort(remoteStr, false)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid remote port in %q: %w", spec, err)
	}
	if !hasLocal {
		return remote, remote, nil
	}
	local, err := parsePort(localStr, true)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid local port in %q: %w", spec, err)
	}
	return local, remote, nil
}

func parsePort(s string, allowZero bool) (int, error) {
	if s == "" && allowZero {
		return 0, nil
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if port < 0 || port > 65535 || (port == 0 && !allowZero) {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
