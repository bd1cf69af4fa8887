package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCatalogMarkdown(t *testing.T) {
	doc, err := catalogMarkdown([]string{"float_slider", "station"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc, "# Widget catalog\n"))
	assert.Contains(t, doc, "## float_slider")
	assert.Contains(t, doc, "Model type `FloatSlider`")
	assert.Contains(t, doc, "| `title` |", "renamed properties use the model name")
	assert.Contains(t, doc, "## station")
	assert.Contains(t, doc, "| `force` | computed | | readonly | from speed |")

	_, err = catalogMarkdown([]string{"spinner"})
	assert.ErrorContains(t, err, "unknown widget")
}

func TestDocsCommand_Raw(t *testing.T) {
	out, err := run(t, "docs", "--raw", "button")
	require.NoError(t, err)
	assert.Contains(t, out, "## button")
	assert.NotContains(t, out, "## station")
}

func TestGraphCommand(t *testing.T) {
	out, err := run(t, "graph", "station")
	require.NoError(t, err)
	assert.Contains(t, out, "speed --> force")

	_, err = run(t, "graph", "button")
	assert.ErrorContains(t, err, "no computed values")

	// flag values stick to the command, so --tree goes last
	out, err = run(t, "graph", "column", "--tree")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "tether version "))
}
