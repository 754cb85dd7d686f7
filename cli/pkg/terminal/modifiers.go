package terminal

// escape is the byte an Alt-modified key is prefixed with.
const escape = 0x1b

// Modifiers holds sticky Ctrl and Alt toggles for keyboards that cannot
// produce them, such as a touch key bar or a terminal that swallows them.
//
// A modifier stays active for every following key until it is toggled off.
// Modifiers is not safe for concurrent use; the Client only touches it from
// its event loop.
type Modifiers struct {
	Ctrl bool
	Alt  bool
}

// ToggleCtrl flips Ctrl and returns the new value.
func (m *Modifiers) ToggleCtrl() bool {
	m.Ctrl = !m.Ctrl
	return m.Ctrl
}

// ToggleAlt flips Alt and returns the new value.
func (m *Modifiers) ToggleAlt() bool {
	m.Alt = !m.Alt
	return m.Alt
}

// Active reports whether either modifier is on.
func (m Modifiers) Active() bool {
	return m.Ctrl || m.Alt
}

// Apply transforms a key code. Ctrl maps a single byte key in '@'..'_' or
// a letter to its control code (so 'c' becomes 0x03) and '?' to DEL; other
// bytes and multi-byte keys such as arrows pass through Ctrl unchanged. Alt prefixes the escape byte. With both on, the
// Ctrl mapping happens first.
//
// The input slice is never modified.
func (m Modifiers) Apply(key []byte) []byte {
	if len(key) == 0 || !m.Active() {
		return key
	}

	out := key
	if m.Ctrl && len(key) == 1 {
		if c, ok := controlCode(key[0]); ok {
			out = []byte{c}
		}
	}
	if m.Alt {
		prefixed := make([]byte, 0, len(out)+1)
		prefixed = append(prefixed, escape)
		out = append(prefixed, out...)
	}
	return out
}

func controlCode(b byte) (byte, bool) {
	switch {
	case b == '?':
		return 0x7f, true
	case b >= '@' && b <= '_', b >= 'a' && b <= 'z':
		return b & 0x1f, true
	}
	return 0, false
}

// KeyKind distinguishes what pressing a key bar entry does.
type KeyKind int

const (
	// KeyCode sends Code through the active modifiers.
	KeyCode KeyKind = iota
	// KeyCtrl toggles the Ctrl modifier.
	KeyCtrl
	// KeyAlt toggles the Alt modifier.
	KeyAlt
	// KeyPaste starts a paste.
	KeyPaste
)

// Key is one entry of the virtual key bar.
type Key struct {
	Label string
	Kind  KeyKind
	Code  []byte
}

// KeyBar is the set of keys a touch surface cannot type on its own.
var KeyBar = []Key{
	{Label: "Esc", Kind: KeyCode, Code: []byte{escape}},
	{Label: "Tab", Kind: KeyCode, Code: []byte{'\t'}},
	{Label: "Ctrl", Kind: KeyCtrl},
	{Label: "Alt", Kind: KeyAlt},
	{Label: "↑", Kind: KeyCode, Code: []byte("\x1b[A")},
	{Label: "↓", Kind: KeyCode, Code: []byte("\x1b[B")},
	{Label: "←", Kind: KeyCode, Code: []byte("\x1b[D")},
	{Label: "→", Kind: KeyCode, Code: []byte("\x1b[C")},
	{Label: "Paste", Kind: KeyPaste},
}

// LookupKey returns the key bar entry with the given label.
func LookupKey(label string) (Key, bool) {
	for _, k := range KeyBar {
		if k.Label == label {
			return k, true
		}
	}
	return Key{}, false
}
