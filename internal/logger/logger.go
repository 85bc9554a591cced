// Package logger configures the process-wide logrus logger and hands out
// named entries for packages.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	mu   sync.Mutex
	root = logrus.New()
	file *os.File
)

func init() {
	root.SetOutput(os.Stderr)
	root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	root.SetLevel(logrus.InfoLevel)
}

// GetLogger returns an entry tagged with the given component name.
func GetLogger(name string) *logrus.Entry {
	return root.WithField("component", name)
}

// Init applies cfg. Empty fields keep their current values.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Output != "" {
		w, err := openOutput(cfg.Output)
		if err != nil {
			return err
		}
		root.SetOutput(w)
	}

	if cfg.Level != "" {
		if err := setLevel(cfg.Level); err != nil {
			return err
		}
	}

	switch strings.ToLower(cfg.Format) {
	case "":
	case "text":
		root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		root.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("logger: unknown format %q", cfg.Format)
	}
	return nil
}

// SetOutput redirects log output, for example to a command's error stream.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	root.SetOutput(w)
}

func setLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	root.SetLevel(lvl)
	return nil
}

// openOutput must be called with mu held.
func openOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logger: open %q: %w", output, err)
	}
	if file != nil {
		file.Close()
	}
	file = f
	return f, nil
}
