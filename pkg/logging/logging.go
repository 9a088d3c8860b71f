// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// New returns a root logger named "meshnode". level is one of trace, debug,
// info, warn, error (unknown values mean info); format "json" switches to
// JSON lines.
func New(level, format string) hclog.Logger {
	return NewWithOutput(level, format, os.Stderr)
}

func NewWithOutput(level, format string, out io.Writer) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:            "meshnode",
		Level:           lvl,
		Output:          out,
		JSONFormat:      strings.EqualFold(format, "json"),
		IncludeLocation: lvl <= hclog.Debug,
	})
}
