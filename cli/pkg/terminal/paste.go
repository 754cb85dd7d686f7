package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// ErrClipboardUnavailable means no clipboard reader exists on this system.
var ErrClipboardUnavailable = errors.New("clipboard unavailable")

// Clipboard reads the system clipboard.
type Clipboard interface {
	Read(ctx context.Context) (string, error)
}

// PasteFallback asks the user to paste by hand when the clipboard cannot be
// read. An empty result means the user dismissed it.
type PasteFallback interface {
	Prompt(ctx context.Context) (string, error)
}

// ClipboardFunc adapts a function to Clipboard.
type ClipboardFunc func(ctx context.Context) (string, error)

func (f ClipboardFunc) Read(ctx context.Context) (string, error) { return f(ctx) }

// FallbackFunc adapts a function to PasteFallback.
type FallbackFunc func(ctx context.Context) (string, error)

func (f FallbackFunc) Prompt(ctx context.Context) (string, error) { return f(ctx) }

// CommandClipboard reads the clipboard by running an external tool such as
// pbpaste, wl-paste or xclip.
type CommandClipboard struct {
	Name string
	Args []string
}

// Read runs the command and returns its stdout.
func (c CommandClipboard) Read(ctx context.Context) (string, error) {
	if _, err := exec.LookPath(c.Name); err != nil {
		return "", fmt.Errorf("%w: %s not found", ErrClipboardUnavailable, c.Name)
	}
	out, err := exec.CommandContext(ctx, c.Name, c.Args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.Name, err)
	}
	return string(out), nil
}

// ClipboardCommands lists the clipboard readers to try for goos, in order.
// getenv decides between Wayland and X11 on Linux.
func ClipboardCommands(goos string, getenv func(string) string) []CommandClipboard {
	switch goos {
	case "darwin":
		return []CommandClipboard{{Name: "pbpaste"}}
	case "windows":
		return []CommandClipboard{{Name: "powershell", Args: []string{"-NoProfile", "-Command", "Get-Clipboard -Raw"}}}
	}

	var cmds []CommandClipboard
	if getenv("WAYLAND_DISPLAY") != "" {
		cmds = append(cmds, CommandClipboard{Name: "wl-paste", Args: []string{"--no-newline"}})
	}
	cmds = append(cmds,
		CommandClipboard{Name: "xclip", Args: []string{"-selection", "clipboard", "-o"}},
		CommandClipboard{Name: "xsel", Args: []string{"--clipboard", "--output"}},
	)
	return cmds
}

// SystemClipboard tries each of this platform's clipboard readers in turn.
func SystemClipboard() Clipboard {
	cmds := ClipboardCommands(runtime.GOOS, os.Getenv)
	return ClipboardFunc(func(ctx context.Context) (string, error) {
		lastErr := ErrClipboardUnavailable
		for _, cmd := range cmds {
			text, err := cmd.Read(ctx)
			if err == nil {
				return text, nil
			}
			lastErr = err
		}
		return "", lastErr
	})
}

// endOfPaste is Ctrl+D, which ends a LinePrompt paste when the terminal
// delivers it as a byte instead of as end of file.
const endOfPaste = 0x04

// LinePrompt is a fallback that reads pasted lines until Ctrl+D or end of
// input. Blank lines are part of the paste.
//
// In is read one byte at a time so nothing past the end marker is consumed;
// the rest of the input still belongs to the session.
type LinePrompt struct {
	In  io.Reader
	Out io.Writer
	// Cooked, when set, switches the terminal to line mode for the prompt and
	// returns a function that switches it back.
	Cooked func() (restore func(), err error)
}

// Prompt implements PasteFallback. Lines are joined with "\n" and no
// trailing newline is added.
func (p LinePrompt) Prompt(ctx context.Context) (string, error) {
	if p.Cooked != nil {
		restore, err := p.Cooked()
		if err != nil {
			return "", err
		}
		defer restore()
	}
	if p.Out != nil {
		fmt.Fprint(p.Out, "\r\n[paste below, then Ctrl+D on its own line to send]\r\n")
	}

	var lines []string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line, done, err := readLine(p.In)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if done || err != nil {
			if line != "" {
				lines = append(lines, line)
			}
			break
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

// readLine reads up to a newline. done reports that the end marker was read.
func readLine(r io.Reader) (line string, done bool, err error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n == 1 {
			switch buf[0] {
			case '\n':
				return strings.TrimSuffix(sb.String(), "\r"), false, nil
			case endOfPaste:
				return strings.TrimSuffix(sb.String(), "\r"), true, nil
			default:
				sb.WriteByte(buf[0])
			}
		}
		if err != nil {
			return strings.TrimSuffix(sb.String(), "\r"), false, err
		}
	}
}
