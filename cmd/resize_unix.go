//go:build unix

package cmd

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyResize delivers a value on every SIGWINCH until stop is closed.
func notifyResize(stop <-chan struct{}) <-chan struct{} {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGWINCH)
	out := make(chan struct{}, 1)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-stop:
				return
			case <-sigs:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
