//go:build !windows

package terminal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// watchResize forwards SIGWINCH to the client until ctx ends.
func watchResize(ctx context.Context, c *Client) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				if err := c.NotifyResize(); err != nil {
					return
				}
			}
		}
	}()

	return func() { signal.Stop(sigCh) }
}
