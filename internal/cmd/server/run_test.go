package serverrun

import (
	"context"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/rtps/internal/config"
	logpkg "github.com/rzbill/rtps/pkg/log"
)

func TestNewLoggerFallback(t *testing.T) {
	tests := []struct {
		name string
		cfg  logpkg.Config
		want logpkg.Level
	}{
		{"valid config", logpkg.Config{Level: "warn", Format: "json"}, logpkg.WarnLevel},
		{"bad format keeps level", logpkg.Config{Level: "debug", Format: "xml"}, logpkg.DebugLevel},
		{"bad level", logpkg.Config{Level: "loud", Format: "xml"}, logpkg.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLogger(tt.cfg)
			bl, ok := l.(*logpkg.BaseLogger)
			if !ok {
				t.Fatalf("unexpected logger type %T", l)
			}
			if bl.GetLevel() != tt.want {
				t.Fatalf("level = %s, want %s", bl.GetLevel(), tt.want)
			}
		})
	}
}

// TestRunIntegration starts the servers on ephemeral ports with the demo
// publisher and lets the context end the run.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	cfg := cfgpkg.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Fsync = "never"
	cfg.Writer.Mode = "async"
	cfg.Transport.UDPListen = "127.0.0.1:0"

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := Run(ctx, Options{
		Config:       cfg,
		GRPCAddr:     "127.0.0.1:0",
		HTTPAddr:     "127.0.0.1:0",
		DemoInterval: 10 * time.Millisecond,
		Logger:       logpkg.NewNopLogger(),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Fsync = "sometimes"
	if err := Run(context.Background(), Options{Config: cfg, Logger: logpkg.NewNopLogger()}); err == nil {
		t.Fatalf("expected config error")
	}
}
