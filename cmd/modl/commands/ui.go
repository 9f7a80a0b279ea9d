package commands

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// StatusBox renders a titled block of key-value fields, boxed on a
// terminal and underlined otherwise.
//
//	StatusBox("Relay", [][2]string{{"Worker", "0xb1"}, {"Block", "12"}})
func StatusBox(title string, fields [][2]string) string {
	lines := make([]string, 0, len(fields)+2)
	if !isTTY() {
		lines = append(lines, title, strings.Repeat("=", lipgloss.Width(title)))
		for _, f := range fields {
			lines = append(lines, fmt.Sprintf("%-16s %s", f[0]+":", f[1]))
		}
		return strings.Join(lines, "\n") + "\n"
	}
	lines = append(lines, styleTitle.Render(title))
	for _, f := range fields {
		lines = append(lines, styleLabel.Render(f[0])+styleValue.Render(f[1]))
	}
	return styleBox.Render(strings.Join(lines, "\n"))
}

// RenderTable lays rows out under headers. Terminal output alternates row
// shading; plain output pads columns with two spaces.
func RenderTable(headers []string, rows [][]string) string {
	if !isTTY() {
		return renderTablePlain(headers, rows)
	}
	head := toneAccent.style().Padding(0, 1)
	even := styleValue.Padding(0, 1)
	odd := toneMuted.style().Padding(0, 1)
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styleRule).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return head
			case row%2 == 0:
				return even
			default:
				return odd
			}
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

func renderTablePlain(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}
	widths := make([]int, len(headers))
	measure := func(cells []string) {
		for i := 0; i < len(cells) && i < len(widths); i++ {
			widths[i] = max(widths[i], len(cells[i]))
		}
	}
	measure(headers)
	for _, row := range rows {
		measure(row)
	}

	var sb strings.Builder
	line := func(cells []string) {
		out := make([]string, 0, len(widths))
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			out = append(out, fmt.Sprintf("%-*s", w, cell))
		}
		sb.WriteString(strings.TrimRight(strings.Join(out, "  "), " ") + "\n")
	}
	rules := make([]string, len(widths))
	for i, w := range widths {
		rules[i] = strings.Repeat("-", w)
	}
	line(headers)
	line(rules)
	for _, row := range rows {
		line(row)
	}
	return sb.String()
}

func notify(t tone, msg string) {
	if isTTY() {
		fmt.Println(t.style().Render("  " + msg))
		return
	}
	fmt.Println(plainTags[t] + " " + msg)
}

// Success prints msg as a completed step.
func Success(msg string) { notify(toneGood, msg) }

// Error prints msg as a failure.
func Error(msg string) { notify(toneBad, msg) }

// Warning prints msg as a warning.
func Warning(msg string) { notify(toneWarn, msg) }

// Info prints msg as a note.
func Info(msg string) { notify(toneInfo, msg) }

// WithSpinner runs fn behind a spinner titled msg. Without a terminal it
// prints msg once and runs fn directly.
func WithSpinner(msg string, fn func() error) error {
	if !isTTY() {
		fmt.Println(msg + "...")
		return fn()
	}
	var fnErr error
	if err := spinner.New().Title(msg).Action(func() { fnErr = fn() }).Run(); err != nil {
		return err
	}
	return fnErr
}

// FormatAmount renders base units of an 18-decimal token with up to four
// fractional digits and thousands separators.
func FormatAmount(amount *big.Int, symbol string) string {
	if amount == nil {
		return "0 " + symbol
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	abs := new(big.Int).Abs(amount)
	whole, frac := new(big.Int).QuoRem(abs, unit, new(big.Int))

	s := addThousandsSep(whole.String())
	if frac.Sign() != 0 {
		padded := frac.String()
		padded = strings.Repeat("0", 18-len(padded)) + padded
		digits := strings.TrimRight(padded[:4], "0")
		switch {
		case digits != "":
			s += "." + digits
		case whole.Sign() == 0:
			s = "<0.0001"
		}
	}
	if amount.Sign() < 0 {
		s = "-" + s
	}
	return s + " " + symbol
}

// FormatModl formats a MODL amount.
func FormatModl(amount *big.Int) string { return FormatAmount(amount, "MODL") }

// FormatNative formats a native coin amount.
func FormatNative(amount *big.Int) string { return FormatAmount(amount, "ETH") }

func addThousandsSep(digits string) string {
	head := len(digits) % 3
	if head == 0 {
		head = 3
	}
	parts := []string{digits[:min(head, len(digits))]}
	for i := head; i < len(digits); i += 3 {
		parts = append(parts, digits[i:i+3])
	}
	return strings.Join(parts, ",")
}

// FormatAddress truncates an address for display.
func FormatAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// SectionHeader renders a blank line and a section title.
func SectionHeader(title string) string {
	if !isTTY() {
		return "\n" + title + "\n" + strings.Repeat("-", len(title))
	}
	return "\n" + toneMuted.style().Bold(true).Render(title)
}

// KeyValue renders one indented label and value aligned with StatusBox.
func KeyValue(key, value string) string {
	if !isTTY() {
		return fmt.Sprintf("  %-16s %s", key+":", value)
	}
	return "  " + styleLabel.Render(key) + styleValue.Render(value)
}

// Hint renders msg indented and dimmed.
func Hint(msg string) string {
	if !isTTY() {
		return "  " + msg
	}
	return "  " + styleRule.Render(msg)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
