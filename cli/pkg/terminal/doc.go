// Package terminal is the interactive side of a sprite console session.
//
// A Client keeps one WebSocket connection to the relay, renders what the
// remote shell prints and forwards keystrokes, resizes and pastes. It
// reconnects on its own after a drop and stops when the relay refuses the
// credential.
//
// # ARCHITECTURE
//
//	TTY (stdin/stdout) ↔ Client ↔ WebSocket ↔ Relay ↔ Sprite exec (PTY)
//
// Key components:
//   - Client: connection state machine driven by a single event loop
//   - CredentialSource: the API token, or a freshly minted ticket per attempt
//   - Modifiers and KeyBar: sticky Ctrl/Alt for keyboards without them
//   - Clipboard and PasteFallback: paste with a manual prompt as fallback
//   - TTY: raw mode, SIGWINCH and the Ctrl+] command prefix
//
// # USAGE
//
// Command-line usage:
//
//	# Mint a short-lived ticket from the console server (default)
//	sprite-cli console my-sprite
//
//	# Send your own API token to the relay
//	sprite-cli console my-sprite --mode token
//
// Programmatic usage:
//
//	tty := terminal.NewTTY()
//	client, err := terminal.NewClient(terminal.Options{
//	    URL:         "ws://localhost:3001/ws",
//	    Sprite:      "my-sprite",
//	    Surface:     tty,
//	    Credentials: terminal.StaticToken(token),
//	    Clipboard:   terminal.SystemClipboard(),
//	    Fallback:    tty.Fallback(),
//	    OnStatus:    tty.ShowStatus,
//	})
//	if err != nil {
//	    return err
//	}
//	return tty.Attach(ctx, client)
//
// # STATE MACHINE
//
//	disconnected → connecting → connected → closed-unexpectedly → connecting ...
//	                                      ↘ closed-by-user (terminal)
//
// An unexpected close arms exactly one reconnect after ReconnectDelay. A
// close with code 1008 (policy violation) is an authentication failure: the
// client goes back to disconnected, reports ErrAuthRequired and does not
// retry.
//
// # PROTOCOL
//
// Frames from the relay are classified with control.Parse:
//   - session_info: the exec is live; the client answers with its geometry
//   - {"error": ...}: surfaced as LastError, never rendered
//   - anything else: written to the surface byte for byte
//
// Keystrokes go out as binary frames as soon as they are typed. Resize
// notifications are debounced so a burst of layout changes sends a single
// {"type":"resize"} frame.
//
// # THREAD SAFETY
//
// Client methods may be called from any goroutine; they post events to the
// loop. Modifiers on its own is not safe for concurrent use.
package terminal
