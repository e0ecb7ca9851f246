package cmd

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/fcp-performance/fcp-performance/record"
)

// A writer that syncs writes with a mutex and, if the output is a TTY, clears before newlines.
type consoleWriter struct {
	Writer io.Writer
	IsTTY  bool
	Mutex  *sync.Mutex
}

func newConsoleWriter(f *os.File, mu *sync.Mutex) *consoleWriter {
	isTTY := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	return &consoleWriter{colorable.NewColorable(f), isTTY, mu}
}

func (w *consoleWriter) Write(p []byte) (n int, err error) {
	origLen := len(p)
	if w.IsTTY {
		// Add a TTY code to erase till the end of line with each new line
		p = bytes.ReplaceAll(p, []byte{'\n'}, []byte{'\x1b', '[', '0', 'K', '\n'})
	}

	w.Mutex.Lock()
	n, err = w.Writer.Write(p)
	w.Mutex.Unlock()

	if err != nil && n < origLen {
		return n, err
	}
	return origLen, err
}

// disableColors strips colors from whatever is written to w.
func (w *consoleWriter) disableColors() {
	w.Writer = colorable.NewNonColorable(w.Writer)
	w.IsTTY = false
}

// newColor returns the requested color with the given attributes,
// disabled when noColor is set.
func newColor(noColor bool, attributes ...color.Attribute) *color.Color {
	c := color.New(attributes...)
	if noColor {
		c.DisableColor()
	} else {
		c.EnableColor()
	}
	return c
}

// printSummary writes a short report of rec to w.
func printSummary(w io.Writer, rec record.RunRecord, output string, noColor bool) {
	var (
		valueColor = newColor(noColor, color.FgCyan)
		okColor    = newColor(noColor, color.FgGreen)
		failColor  = newColor(noColor, color.FgRed)
		faint      = newColor(noColor, color.Faint)
	)

	measured := rec.Measured()
	failed := len(rec.Measurements) - measured

	fprintf(w, "\n%s %s\n", faint.Sprint("     browser:"), valueColor.Sprint(rec.ProductVersion))
	fprintf(w, "%s %s\n", faint.Sprint("        urls:"), valueColor.Sprint(len(rec.Measurements)))
	fprintf(w, "%s %s\n", faint.Sprint("    measured:"), okColor.Sprint(measured))
	if failed > 0 {
		fprintf(w, "%s %s\n", faint.Sprint("unmeasurable:"), failColor.Sprint(failed))
	} else {
		fprintf(w, "%s %d\n", faint.Sprint("unmeasurable:"), failed)
	}
	fprintf(w, "%s %s\n\n", faint.Sprint("      output:"), valueColor.Sprint(output))
}
