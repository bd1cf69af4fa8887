package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/tether/internal/presentation/tui"
	"github.com/aretw0/tether/pkg/model"
	"github.com/aretw0/tether/pkg/param"
	"github.com/aretw0/tether/pkg/widgets"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var docsCmd = &cobra.Command{
	Use:   "docs [widget...]",
	Short: "Describe the widget catalog",
	Long: `Prints the parameters of catalog widgets as Markdown. Without arguments
every widget is listed. Output is rendered for the terminal unless --raw is
set or stdout is not a terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		names := args
		if len(names) == 0 {
			names = widgets.Names()
		}
		doc, err := catalogMarkdown(names)
		if err != nil {
			return err
		}

		raw, _ := cmd.Flags().GetBool("raw")
		fd := int(os.Stdout.Fd())
		if raw || !term.IsTerminal(fd) {
			fmt.Fprint(cmd.OutOrStdout(), doc)
			return nil
		}
		width, _, err := term.GetSize(fd)
		if err != nil {
			width = 0
		}
		render, err := tui.NewRenderer(width)
		if err != nil {
			return err
		}
		out, err := render(doc)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

// catalogMarkdown documents the named widgets, one table per widget.
func catalogMarkdown(names []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("# Widget catalog\n")
	for _, name := range names {
		w, err := widgets.Build(name, nil)
		if err != nil {
			return "", err
		}
		obj := w.Params()
		typ := obj.Name()
		if t, ok := w.(model.Typed); ok {
			typ = t.ModelType()
		}
		var renames map[string]string
		if r, ok := w.(model.Renamer); ok {
			renames = r.PropertyNames()
		}

		fmt.Fprintf(&sb, "\n## %s\n\nModel type `%s`.\n\n", name, typ)
		sb.WriteString("| Property | Type | Default | Flags | Description |\n")
		sb.WriteString("|---|---|---|---|---|\n")
		for _, p := range obj.Parameters() {
			prop := p.Name
			if renamed, ok := renames[p.Name]; ok {
				prop = renamed
			}
			if prop == "" || p.Hidden {
				continue
			}
			fmt.Fprintf(&sb, "| `%s` | %s | %s | %s | %s |\n", prop, cell(p.Type.Name()), cell(formatDefault(p.Default)), flags(p), cell(p.Doc))
		}
		if c, ok := w.(model.Computed); ok && c.Graph() != nil {
			for _, n := range c.Graph().Names() {
				fmt.Fprintf(&sb, "| `%s` | computed | | readonly | from %s |\n", n, strings.Join(c.Graph().Deps(n), ", "))
			}
		}
	}
	return sb.String(), nil
}

func formatDefault(v any) string {
	switch val := v.(type) {
	case nil:
		return "none"
	case string:
		if val == "" {
			return `""`
		}
		return "`" + val + "`"
	case param.Parameterized, []param.Parameterized:
		return "objects"
	}
	s := fmt.Sprint(v)
	if len(s) > 24 {
		s = s[:21] + "..."
	}
	return "`" + s + "`"
}

// cell escapes pipes that would split a table cell.
func cell(s string) string { return strings.ReplaceAll(s, "|", `\|`) }

func flags(p param.Parameter) string {
	var f []string
	if p.Readonly {
		f = append(f, "readonly")
	}
	if p.AllowNone {
		f = append(f, "nullable")
	}
	if p.KeepAll {
		f = append(f, "keep-all")
	}
	return strings.Join(f, ", ")
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.Flags().Bool("raw", false, "Print Markdown without terminal rendering")
}
