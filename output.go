package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/sammcj/pdf-ocr-compare/internal/compare"
)

// Output formats for the extract command
const (
	outputText = "text"
	outputJSON = "json"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printComparison writes each provider's result under a coloured heading
func printComparison(w io.Writer, source string, comparison compare.Comparison) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	blue := color.New(color.FgBlue).SprintFunc()

	fmt.Fprintf(w, "%s %s\n", bold("Source:"), source)

	names := make([]string, 0, len(comparison.Results))
	for name := range comparison.Results {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		result := comparison.Results[name]
		fmt.Fprintf(w, "\n%s\n", blue(strings.Repeat("=", 60)))

		if result.Success {
			fmt.Fprintf(w, "%s %s (%d ms, %d characters)\n", bold(strings.ToUpper(name)), green("ok"), result.Time, len(result.Text))
			fmt.Fprintf(w, "%s\n", blue(strings.Repeat("-", 60)))
			fmt.Fprintln(w, strings.TrimRight(result.Text, "\n"))
			continue
		}

		fmt.Fprintf(w, "%s %s (%d ms)\n", bold(strings.ToUpper(name)), red("failed"), result.Time)
		fmt.Fprintf(w, "%s\n", red(result.ErrorMessage()))
	}
}
