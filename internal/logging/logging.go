package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// New builds the process logger. Colours are enabled only when out is a terminal.
func New(level string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}
	lg := logrus.New()
	lg.SetOutput(out)
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	lg.SetLevel(lvl)

	tty := false
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	lg.SetFormatter(&logrus.TextFormatter{
		ForceColors:      tty,
		DisableColors:    !tty,
		FullTimestamp:    true,
		TimestampFormat:  "15:04:05",
		QuoteEmptyFields: true,
	})
	return lg
}

// ForAccount scopes a logger to one wallet of a run.
func ForAccount(lg logrus.FieldLogger, idx, total int, address string) *logrus.Entry {
	return lg.WithFields(logrus.Fields{
		"acc":     ShortAddr(address),
		"account": fmt.Sprintf("%d/%d", idx, total),
	})
}

// ShortAddr renders 0x1234...abcd.
func ShortAddr(a string) string {
	a = strings.TrimSpace(a)
	if len(a) <= 12 {
		return a
	}
	return a[:6] + "..." + a[len(a)-4:]
}

// MaskHex hides the middle of keys and tokens.
func MaskHex(h string) string {
	h = strings.TrimSpace(h)
	if len(h) <= 10 {
		return "***"
	}
	return h[:6] + "…" + h[len(h)-4:]
}

// Logf adapts a logger to the printf-style callback used by the chain and bundler clients.
func Logf(lg logrus.FieldLogger) func(string, ...any) {
	if lg == nil {
		return nil
	}
	return func(format string, args ...any) { lg.Debugf(format, args...) }
}
