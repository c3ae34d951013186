package log

import (
	"bytes"
	"fmt"
	stdlog "log"
	"strings"
)

// Config declares a logger: level, format (text|json) and outputs
// ("console", "null", or a file path).
type Config struct {
	Level   string   `json:"level" yaml:"level"`
	Format  string   `json:"format" yaml:"format"`
	Outputs []string `json:"outputs" yaml:"outputs"`
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := []LoggerOption{WithLevel(lvl)}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		opts = append(opts, WithFormatter(&TextFormatter{}))
	case "json":
		opts = append(opts, WithFormatter(&JSONFormatter{}))
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	for _, o := range cfg.Outputs {
		switch o {
		case "", "console":
			opts = append(opts, WithOutput(NewConsoleOutput()))
		case "null":
			opts = append(opts, WithOutput(&NullOutput{}))
		default:
			fo, err := NewFileOutput(o)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithOutput(fo))
		}
	}
	return NewLogger(opts...), nil
}

// RedirectStdLog routes the standard library logger into l at info level.
func RedirectStdLog(l Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdWriter{l: l})
}

type stdWriter struct{ l Logger }

func (w stdWriter) Write(p []byte) (int, error) {
	w.l.Info(string(bytes.TrimRight(p, "\n")), Str("source", "stdlog"))
	return len(p), nil
}
