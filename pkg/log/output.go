package log

import (
	"io"
	"os"
)

// ConsoleOutput writes formatted entries to stderr (or a supplied writer).
type ConsoleOutput struct {
	w io.Writer
}

// NewConsoleOutput returns a ConsoleOutput writing to os.Stderr.
func NewConsoleOutput() *ConsoleOutput { return &ConsoleOutput{w: os.Stderr} }

// Write implements Output.
func (c *ConsoleOutput) Write(_ *Entry, formatted []byte) error {
	w := c.w
	if w == nil {
		w = os.Stderr
	}
	_, err := w.Write(formatted)
	return err
}

// Close implements Output.
func (c *ConsoleOutput) Close() error { return nil }
