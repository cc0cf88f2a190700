package output

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/zfogg/sidechain/lazyload/internal/config"
	"golang.org/x/term"
)

// Format represents the output format type
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatText  Format = "text"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Out is where Print* helpers write. Tests swap it for a buffer.
var Out io.Writer = color.Output

// GetFormat returns the configured output format
func GetFormat() Format {
	switch config.GetString("output.format") {
	case "json":
		return FormatJSON
	case "table":
		return FormatTable
	default:
		return FormatText
	}
}

// ValidateFormat checks if format is valid
func ValidateFormat(format string) bool {
	return format == "json" || format == "table" || format == "text"
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// TerminalWidth returns the stdout width, or fallback when it is not a
// terminal.
func TerminalWidth(fallback int) int {
	if !IsTerminal() {
		return fallback
	}
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}

// DisableColorUnlessTerminal turns colors off when output is piped.
func DisableColorUnlessTerminal() {
	if !IsTerminal() {
		color.NoColor = true
	}
}

// Print outputs data in the configured format with optional title
func Print(title string, data any) error {
	if GetFormat() == FormatJSON {
		return printJSON(data)
	}
	if title != "" {
		fmt.Fprintf(Out, "%s:\n", title)
	}
	return printJSON(data)
}

// PrintTable writes rows in the configured format. JSON output emits one
// object per row keyed by header.
func PrintTable(headers []string, rows [][]string) error {
	if GetFormat() == FormatJSON {
		objects := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			obj := make(map[string]string, len(headers))
			for i, h := range headers {
				if i < len(row) {
					obj[h] = row[i]
				}
			}
			objects = append(objects, obj)
		}
		return printJSON(objects)
	}
	printTable(headers, rows)
	return nil
}

// PrintRecord outputs ordered key/value pairs.
func PrintRecord(title string, keys []string, record map[string]any) error {
	switch GetFormat() {
	case FormatJSON:
		return printJSON(record)
	case FormatTable:
		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, []string{k, fmt.Sprintf("%v", record[k])})
		}
		printTable([]string{"Field", "Value"}, rows)
		return nil
	default:
		if title != "" {
			fmt.Fprintf(Out, "%s:\n", title)
		}
		bold := color.New(color.Bold)
		for _, k := range keys {
			bold.Fprint(Out, "  "+k+": ")
			fmt.Fprintf(Out, "%v\n", record[k])
		}
		return nil
	}
}

// PrintSuccess prints a success message
func PrintSuccess(msg string, args ...any) {
	color.New(color.FgGreen).Fprintf(Out, msg+"\n", args...)
}

// PrintError prints an error message
func PrintError(msg string, args ...any) {
	color.New(color.FgRed).Fprintf(Out, "Error: "+msg+"\n", args...)
}

// PrintInfo prints an info message
func PrintInfo(msg string, args ...any) {
	color.New(color.FgCyan).Fprintf(Out, msg+"\n", args...)
}

// PrintWarning prints a warning message
func PrintWarning(msg string, args ...any) {
	color.New(color.FgYellow).Fprintf(Out, "Warning: "+msg+"\n", args...)
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}

// StatusColor renders a load state with its usual color.
func StatusColor(status string) string {
	switch status {
	case "loaded":
		return color.GreenString(status)
	case "errored":
		return color.RedString(status)
	case "canceled", "replaced":
		return color.YellowString(status)
	default:
		return status
	}
}

// FormatAsJSON converts data to JSON string (convenience function)
func FormatAsJSON(data any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func printJSON(data any) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(Out, string(b))
	return err
}

func printTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(Out, 0, 0, 2, ' ', 0)
	bold := color.New(color.Bold)

	for i, h := range headers {
		bold.Fprint(w, h)
		if i < len(headers)-1 {
			fmt.Fprint(w, "\t")
		}
	}
	fmt.Fprintln(w)

	for _, row := range rows {
		for i, cell := range row {
			fmt.Fprint(w, cell)
			if i < len(row)-1 {
				fmt.Fprint(w, "\t")
			}
		}
		fmt.Fprintln(w)
	}

	w.Flush()
}
