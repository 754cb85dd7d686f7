//go:build windows

package terminal

import "context"

// watchResize is a no-op: Windows consoles have no SIGWINCH.
func watchResize(context.Context, *Client) func() {
	return func() {}
}
