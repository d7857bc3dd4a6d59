package portforwarding

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"kubelink/internal/color"
	"kubelink/internal/config"
)

// ForwarderFor picks the forwarder serving a definition, usually by its context.
type ForwarderFor func(cfg config.PortForwardDefinition) (*Forwarder, error)

// For mocking in tests
var startAndManageIndividualPortForwardFn = func(f *Forwarder, cfg config.PortForwardDefinition, updateFn PortForwardUpdateFunc) (ManagedPortForwardInfo, error) {
	return f.StartAndManageIndividualPortForward(cfg, updateFn)
}

// StartAllConfiguredPortForwards starts every definition and returns once all
// listeners are bound or have failed. Closing globalStopChan stops all of them.
// The returned slice is in the order of configs.
func StartAllConfiguredPortForwards(
	configs []config.PortForwardDefinition,
	forwarderFor ForwarderFor,
	updateFn PortForwardUpdateFunc,
	globalStopChan <-chan struct{},
) ([]ManagedPortForwardInfo, error) {
	results := make([]ManagedPortForwardInfo, len(configs))
	var wg sync.WaitGroup

	for i, pfConfig := range configs {
		wg.Add(1)
		go func(i int, cfg config.PortForwardDefinition) {
			defer wg.Done()

			f, err := forwarderFor(cfg)
			if err != nil {
				err = fmt.Errorf("error starting port-forward '%s': %w", cfg.Name, err)
				if updateFn != nil {
					updateFn(cfg.Name, StatusDetailFailed, false, err)
				}
				results[i] = ManagedPortForwardInfo{Config: cfg, InitialError: err}
				return
			}

			info, err := startAndManageIndividualPortForwardFn(f, cfg, updateFn)
			if err != nil {
				info.InitialError = fmt.Errorf("error starting port-forward '%s': %w", cfg.Name, err)
			}
			results[i] = info
		}(i, pfConfig)
	}
	wg.Wait()

	var errs []error
	for _, res := range results {
		if res.InitialError != nil {
			errs = append(errs, res.InitialError)
		}
	}

	go func() {
		<-globalStopChan
		for _, res := range results {
			if res.InitialError == nil && res.StopChan != nil {
				close(res.StopChan)
			}
		}
	}()

	return results, errors.Join(errs...)
}

// NewCLIUpdater returns a PortForwardUpdateFunc for CLI mode that prints one
// line per status change to w.
func NewCLIUpdater(w io.Writer) PortForwardUpdateFunc {
	var mu sync.Mutex
	palette := color.For(w)
	return func(label string, detail PortForwardStatusDetail, isReady bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		prefix := fmt.Sprintf("[%s]", label)
		switch {
		case err != nil:
			fmt.Fprintf(w, "%s %s: %v\n", prefix, palette.Error.Render(string(detail)), err)
		case isReady:
			fmt.Fprintf(w, "%s %s\n", prefix, palette.Success.Render(string(detail)))
		case detail == StatusDetailStopped:
			fmt.Fprintf(w, "%s %s\n", prefix, palette.Muted.Render(string(detail)))
		default:
			fmt.Fprintf(w, "%s %s\n", prefix, palette.Warning.Render(string(detail)))
		}
	}
}
