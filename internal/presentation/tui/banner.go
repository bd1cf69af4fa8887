package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the tether banner to w.
func PrintBanner(w io.Writer) {
	out := termenv.NewOutput(w)
	lines := []struct{ text, color string }{
		{"  _       _   _", "#818cf8"},
		{" | |_ ___| |_| |__   ___ _ __", "#a78bfa"},
		{" | __/ _ \\ __| '_ \\ / _ \\ '__|", "#c084fc"},
		{" | ||  __/ |_| | | |  __/ |", "#e879f9"},
		{"  \\__\\___|\\__|_| |_|\\___|_|", "#f472b6"},
	}
	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w)
}
