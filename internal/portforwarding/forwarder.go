package portforwarding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"kubelink/internal/config"
	"kubelink/pkg/logging"
)

// netListen allows mocking of the local listener in tests.
var netListen = net.Listen

// Structure to hold the last reported state for debouncing
type portForwardReportedState struct {
	detail  PortForwardStatusDetail
	isReady bool
	err     error
}

var (
	lastPortForwardStates      = make(map[string]portForwardReportedState)
	lastPortForwardStatesMutex = &sync.Mutex{}
)

// reporter returns a function that calls updateFn only when the reported
// state of label actually changes.
func reporter(subsystem string, updateFn PortForwardUpdateFunc) func(label string, detail PortForwardStatusDetail, isReady bool, opErr error) {
	return func(label string, detail PortForwardStatusDetail, isReady bool, opErr error) {
		lastPortForwardStatesMutex.Lock()
		defer lastPortForwardStatesMutex.Unlock()

		lastState, known := lastPortForwardStates[label]
		errorChanged := (lastState.err != nil) != (opErr != nil) || (lastState.err != nil && opErr != nil && lastState.err.Error() != opErr.Error())

		if known && lastState.detail == detail && lastState.isReady == isReady && !errorChanged {
			logging.Debug(subsystem, "State for %s is unchanged (Detail: %s, Ready: %t, Error: %v), not reporting.", label, detail, isReady, opErr)
			return
		}

		lastPortForwardStates[label] = portForwardReportedState{detail: detail, isReady: isReady, err: opErr}
		if updateFn != nil {
			logging.Debug(subsystem, "Reporting state change for %s: Detail: %s, Ready: %t, Error: %v (Previously: Detail: %s, Ready: %t, Error: %v)",
				label, detail, isReady, opErr, lastState.detail, lastState.isReady, lastState.err)
			updateFn(label, detail, isReady, opErr)
		}
		if detail == StatusDetailStopped || detail == StatusDetailFailed {
			delete(lastPortForwardStates, label)
		}
	}
}

// StartAndManageIndividualPortForward listens on the configured local
// address and opens one port-forward session per accepted connection. It
// returns once the listener is bound; close the returned channel to stop.
func (f *Forwarder) StartAndManageIndividualPortForward(
	cfg config.PortForwardDefinition,
	updateFn PortForwardUpdateFunc,
) (ManagedPortForwardInfo, error) {
	subsystem := "PortForward-" + cfg.Name
	info := ManagedPortForwardInfo{Config: cfg, StopChan: make(chan struct{})}
	report := reporter(subsystem, updateFn)

	bindAddress := cfg.BindAddress
	if bindAddress == "" {
		bindAddress = config.DefaultBindAddress
	}
	localAddr := net.JoinHostPort(bindAddress, strconv.Itoa(cfg.LocalPort))
	logging.Info(subsystem, "Attempting to start port-forward for %s (%s -> %s/%s:%d)", cfg.Name, localAddr, cfg.Namespace, cfg.Pod, cfg.RemotePort)
	report(cfg.Name, StatusDetailInitializing, false, nil)

	listener, err := netListen("tcp", localAddr)
	if err != nil {
		err = fmt.Errorf("failed to listen on %s: %w", localAddr, err)
		logging.Error(subsystem, err, "Failed to start port-forward for %s", cfg.Name)
		report(cfg.Name, StatusDetailFailed, false, err)
		info.InitialError = err
		return info, err
	}
	info.LocalAddr = listener.Addr().String()
	logging.Info(subsystem, "Forwarding from %s to %s/%s:%d", info.LocalAddr, cfg.Namespace, cfg.Pod, cfg.RemotePort)
	report(cfg.Name, StatusDetailForwardingActive, true, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-info.StopChan
		cancel()
		_ = listener.Close()
	}()

	go func() {
		var wg sync.WaitGroup
		defer func() {
			cancel()
			wg.Wait()
		}()
		for {
			local, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					logging.Info(subsystem, "Port-forward %s stopped", cfg.Name)
					report(cfg.Name, StatusDetailStopped, false, nil)
					return
				}
				logging.Error(subsystem, err, "Accept failed for %s", cfg.Name)
				report(cfg.Name, StatusDetailFailed, false, err)
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.handleConnection(ctx, subsystem, cfg, local)
			}()
		}
	}()

	return info, nil
}

// handleConnection bridges one local TCP connection to a new session. Either
// side finishing tears down both.
func (f *Forwarder) handleConnection(ctx context.Context, subsystem string, cfg config.PortForwardDefinition, local net.Conn) {
	defer local.Close()
	logging.Debug(subsystem, "Handling connection from %s", local.RemoteAddr())

	errOut := &remoteErrorWriter{subsystem: subsystem, name: cfg.Name}
	conn, err := f.PortForward(ctx, cfg.Namespace, cfg.Pod, []int{cfg.RemotePort}, local, errOut, nil)
	if err != nil {
		logging.Error(subsystem, err, "Failed to open session for %s", cfg.Name)
		return
	}
	defer conn.Close()

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		buf := make([]byte, 32*1024)
		w := conn.Writer(0)
		for {
			n, err := local.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	select {
	case <-conn.Done():
		if err := conn.Err(); err != nil {
			logging.Warn(subsystem, "Session for %s ended: %v", cfg.Name, err)
		}
	case <-inputDone:
	case <-ctx.Done():
	}
}

// remoteErrorWriter logs messages the server sends on the error channel.
type remoteErrorWriter struct {
	subsystem string
	name      string
}

func (w *remoteErrorWriter) Write(p []byte) (int, error) {
	logging.Error(w.subsystem, errors.New(string(p)), "Port-forward %s reported an error", w.name)
	return len(p), nil
}
