package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// Format represents the output format type
type Format string

const (
	// FormatText is the default human-readable text format
	FormatText Format = "text"
	// FormatJSON is the JSON output format
	FormatJSON Format = "json"
)

// Formatter writes command results as aligned text or indented JSON.
type Formatter struct {
	format Format
	writer io.Writer
}

// New creates a Formatter writing to stdout.
func New(format Format) *Formatter {
	return &Formatter{
		format: format,
		writer: os.Stdout,
	}
}

// FromCmd builds a Formatter from the command's --output flag and points it
// at the command's output stream.
func FromCmd(cmd *cobra.Command) (*Formatter, error) {
	format, err := GetFormatFromCmd(cmd)
	if err != nil {
		return nil, err
	}
	f := New(format)
	f.SetWriter(cmd.OutOrStdout())
	return f, nil
}

// SetWriter sets a custom writer for output (useful for testing)
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Writer returns the destination stream.
func (f *Formatter) Writer() io.Writer {
	return f.writer
}

// Output writes data as JSON, or with %v in text mode.
func (f *Formatter) Output(data any) error {
	switch f.format {
	case FormatJSON:
		return f.outputJSON(data)
	case FormatText:
		fmt.Fprintf(f.writer, "%v\n", data)
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

// Render writes data as JSON in JSON mode. In text mode it hands text a
// tabwriter (tab separated cells, two spaces of padding) and flushes it.
func (f *Formatter) Render(data any, text func(w io.Writer)) error {
	if f.IsJSON() {
		return f.outputJSON(data)
	}
	w := tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0)
	text(w)
	return w.Flush()
}

// Success prints a one-line confirmation in text mode, or
// {"success":true,...fields} in JSON mode.
func (f *Formatter) Success(message string, fields map[string]any) error {
	if f.IsJSON() {
		out := map[string]any{"success": true}
		for k, v := range fields {
			out[k] = v
		}
		return f.outputJSON(out)
	}
	_, err := fmt.Fprintln(f.writer, message)
	return err
}

// outputJSON marshals and outputs data as JSON
func (f *Formatter) outputJSON(data any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// IsJSON returns true if the format is JSON
func (f *Formatter) IsJSON() bool {
	return f.format == FormatJSON
}

// IsText returns true if the format is text
func (f *Formatter) IsText() bool {
	return f.format == FormatText
}

// AddFormatFlag adds a --output flag to a cobra command
func AddFormatFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "text", "Output format (text|json)")
}

// GetFormatFromCmd extracts the output format from a cobra command's flags
func GetFormatFromCmd(cmd *cobra.Command) (Format, error) {
	formatStr, err := cmd.Flags().GetString("output")
	if err != nil {
		return FormatText, err
	}

	format := Format(formatStr)
	switch format {
	case FormatText, FormatJSON:
		return format, nil
	default:
		return FormatText, fmt.Errorf("invalid output format: %s (must be 'text' or 'json')", formatStr)
	}
}

// Dash renders empty values as "-" in tables.
func Dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
