//go:build !unix

package cmd

import "time"

const resizePollInterval = 250 * time.Millisecond

// notifyResize polls where there is no resize signal.
func notifyResize(stop <-chan struct{}) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		ticker := time.NewTicker(resizePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
