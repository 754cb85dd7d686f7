package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

const (
	// escapePrefix starts a local command (Ctrl+]), the same convention
	// telnet uses. Pressing it twice sends one literal Ctrl+].
	escapePrefix = 0x1D

	// Keys accepted after escapePrefix.
	quitKey  = 'q'
	pasteKey = 'p'
	ctrlKey  = 'c'
	altKey   = 'a'
)

// TTY binds a Client to the local terminal.
//
// TTY is the Client's Surface: output goes to stdout and geometry comes from
// the stdout terminal. Attach puts stdin in raw mode so every keystroke,
// including Ctrl+C, reaches the remote shell, and watches for window size
// changes.
//
// Local commands are typed as Ctrl+] followed by:
//   - q: close the console
//   - p: paste from the system clipboard (or prompt when unavailable)
//   - c: toggle sticky Ctrl
//   - a: toggle sticky Alt
type TTY struct {
	// stdin is the local terminal input (typically os.Stdin)
	stdin *os.File

	// stdout is the local terminal output (typically os.Stdout)
	stdout *os.File

	// oldState stores the original terminal state for restoration on exit
	oldState *term.State

	// pending is set after escapePrefix; only the input goroutine touches it
	pending bool
}

// NewTTY returns a TTY on os.Stdin and os.Stdout.
func NewTTY() *TTY {
	return &TTY{stdin: os.Stdin, stdout: os.Stdout}
}

// Write renders output.
func (t *TTY) Write(p []byte) (int, error) {
	return t.stdout.Write(p)
}

// Size returns the terminal geometry of stdout.
func (t *TTY) Size() (cols, rows int, err error) {
	return term.GetSize(int(t.stdout.Fd()))
}

// Fallback returns the paste prompt for this terminal. It leaves raw mode
// while the user pastes.
func (t *TTY) Fallback() PasteFallback {
	return LinePrompt{In: t.stdin, Out: t.stdout, Cooked: t.cooked}
}

// ShowStatus prints surfaced errors between output. It is meant to be used
// as Options.OnStatus.
func (t *TTY) ShowStatus(s Status) {
	if s.Err == nil {
		return
	}
	switch s.State {
	case StateClosedUnexpectedly:
		fmt.Fprintf(t.stdout, "\r\n[disconnected: %v, reconnecting]\r\n", s.Err)
	case StateConnected:
		fmt.Fprintf(t.stdout, "\r\n[%v]\r\n", s.Err)
	}
}

// Attach runs c on this terminal until the user quits, ctx is cancelled or
// the credential is refused. The terminal state is restored before it
// returns.
func (t *TTY) Attach(ctx context.Context, c *Client) error {
	fmt.Fprintln(t.stdout, "Connecting to sprite console. Press Ctrl+] then 'q' to exit, 'p' to paste.")
	fmt.Fprintln(t.stdout, "----------------------------------------")

	if err := t.setRawMode(); err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	defer t.restore()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopResize := watchResize(ctx, c)
	defer stopResize()

	go t.pumpInput(ctx, c)

	err := c.Run(ctx)
	t.restore()
	fmt.Fprintln(t.stdout, "\n----------------------------------------")
	switch {
	case err == nil:
		fmt.Fprintln(t.stdout, "Console closed by user.")
	case errors.Is(err, ErrAuthRequired):
		fmt.Fprintln(t.stdout, "Console closed: authentication required.")
	}
	return err
}

// pumpInput reads stdin until the client stops. Reads stay blocked after
// Attach returns; the process exits shortly after.
func (t *TTY) pumpInput(ctx context.Context, c *Client) {
	buf := make([]byte, 1024)
	for {
		n, err := t.stdin.Read(buf)
		if n > 0 {
			for _, a := range t.decode(buf[:n]) {
				if quit := t.apply(ctx, c, a); quit {
					c.Teardown()
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

type inputAction struct {
	key  byte
	data []byte
}

// decode splits raw input into data to send and local commands. A command
// split across reads is carried in t.pending.
func (t *TTY) decode(data []byte) []inputAction {
	var actions []inputAction
	var out []byte
	flush := func() {
		if len(out) > 0 {
			actions = append(actions, inputAction{data: out})
			out = nil
		}
	}

	for _, b := range data {
		if t.pending {
			t.pending = false
			switch b {
			case quitKey, pasteKey, ctrlKey, altKey:
				flush()
				actions = append(actions, inputAction{key: b})
			case escapePrefix:
				out = append(out, escapePrefix)
			default:
				out = append(out, escapePrefix, b)
			}
			continue
		}
		if b == escapePrefix {
			t.pending = true
			continue
		}
		out = append(out, b)
	}
	flush()
	return actions
}

func (t *TTY) apply(ctx context.Context, c *Client, a inputAction) bool {
	var err error
	switch a.key {
	case quitKey:
		return true
	case pasteKey:
		err = c.Paste(ctx)
	case ctrlKey:
		err = c.ToggleCtrl()
	case altKey:
		err = c.ToggleAlt()
	default:
		err = c.Send(a.data)
	}
	if errors.Is(err, ErrClosed) {
		return true
	}
	if err != nil {
		c.logger.Debug().Err(err).Msg("Local input not delivered")
	}
	return false
}

// setRawMode sets the terminal to raw mode for character-by-character input.
//
// Returns an error if stdin is not a terminal (e.g., input is piped).
func (t *TTY) setRawMode() error {
	if !term.IsTerminal(int(t.stdin.Fd())) {
		return fmt.Errorf("stdin is not a terminal")
	}

	state, err := term.MakeRaw(int(t.stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}

	t.oldState = state
	return nil
}

// restore returns the terminal to its original state. It is safe to call
// multiple times.
func (t *TTY) restore() {
	if t.oldState != nil {
		_ = term.Restore(int(t.stdin.Fd()), t.oldState)
		t.oldState = nil
	}
}

// cooked leaves raw mode for a prompt and returns the way back.
func (t *TTY) cooked() (func(), error) {
	if t.oldState == nil {
		return func() {}, nil
	}
	saved := t.oldState
	if err := term.Restore(int(t.stdin.Fd()), saved); err != nil {
		return nil, err
	}
	return func() {
		_, _ = term.MakeRaw(int(t.stdin.Fd()))
	}, nil
}
