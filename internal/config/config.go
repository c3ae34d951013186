package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/internal/locator"
	pebblestore "github.com/rzbill/rtps/internal/storage/pebble"
	"github.com/rzbill/rtps/internal/writer"
	logpkg "github.com/rzbill/rtps/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Participant     ParticipantConfig      `json:"participant" yaml:"participant"`
	Storage         StorageConfig          `json:"storage" yaml:"storage"`
	Sender          SenderConfig           `json:"sender" yaml:"sender"`
	Transport       TransportConfig        `json:"transport" yaml:"transport"`
	Writer          WriterDefaults         `json:"writer" yaml:"writer"`
	FlowControllers []FlowControllerConfig `json:"flowControllers" yaml:"flowControllers"`
	Admin           AdminConfig            `json:"admin" yaml:"admin"`
	Log             logpkg.Config          `json:"log" yaml:"log"`
}

// ParticipantConfig identifies the local participant.
type ParticipantConfig struct {
	// Prefix is the 12-byte GUID prefix in hex; empty derives one from a
	// random UUID.
	Prefix string `json:"prefix" yaml:"prefix"`
	// LivelinessCheck is how often expired writer leases are swept.
	LivelinessCheck Duration `json:"livelinessCheck" yaml:"livelinessCheck"`
}

// StorageConfig locates the persistent history store.
type StorageConfig struct {
	DataDir           string            `json:"dataDir" yaml:"dataDir"`
	Fsync             string            `json:"fsync" yaml:"fsync"`
	FsyncInterval     Duration          `json:"fsyncInterval" yaml:"fsyncInterval"`
	CompressThreshold datasize.ByteSize `json:"compressThreshold" yaml:"compressThreshold"`
}

// SenderConfig sizes the shared asynchronous sender.
type SenderConfig struct {
	Workers int `json:"workers" yaml:"workers"`
}

// TransportConfig selects the network transports. Empty addresses disable
// the transport; loopback is always available.
type TransportConfig struct {
	UDPListen      string            `json:"udpListen" yaml:"udpListen"`
	GRPCListen     string            `json:"grpcListen" yaml:"grpcListen"`
	MaxMessageSize datasize.ByteSize `json:"maxMessageSize" yaml:"maxMessageSize"`
}

// WriterDefaults apply to writers created without explicit options.
type WriterDefaults struct {
	Mode                string            `json:"mode" yaml:"mode"`
	Durability          string            `json:"durability" yaml:"durability"`
	HistoryDepth        int               `json:"historyDepth" yaml:"historyDepth"`
	MaxSamples          int               `json:"maxSamples" yaml:"maxSamples"`
	PayloadMaxSize      datasize.ByteSize `json:"payloadMaxSize" yaml:"payloadMaxSize"`
	FragmentSize        datasize.ByteSize `json:"fragmentSize" yaml:"fragmentSize"`
	MaxBatchPayloadSize datasize.ByteSize `json:"maxBatchPayloadSize" yaml:"maxBatchPayloadSize"`
	MaxBlockingTime     Duration          `json:"maxBlockingTime" yaml:"maxBlockingTime"`
	MaxMatchedReaders   int               `json:"maxMatchedReaders" yaml:"maxMatchedReaders"`
	SeparateSending     bool              `json:"separateSending" yaml:"separateSending"`
	FlowControllers     []string          `json:"flowControllers" yaml:"flowControllers"`
	FixedLocators       []string          `json:"fixedLocators" yaml:"fixedLocators"`
}

// FlowControllerConfig declares a participant-wide flow controller.
type FlowControllerConfig struct {
	Name string `json:"name" yaml:"name"`
	// Kind is throughput, item-limit or priority.
	Kind           string            `json:"kind" yaml:"kind"`
	BytesPerPeriod datasize.ByteSize `json:"bytesPerPeriod" yaml:"bytesPerPeriod"`
	Period         Duration          `json:"period" yaml:"period"`
	MaxItems       int               `json:"maxItems" yaml:"maxItems"`
	Expr           string            `json:"expr" yaml:"expr"`
}

// AdminConfig configures the admin HTTP endpoint.
type AdminConfig struct {
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
}

// Duration is a time.Duration read from strings such as "100ms".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return errors.Wrapf(err, "config: duration %q", b)
	}
	*d = Duration(v)
	return nil
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Participant: ParticipantConfig{LivelinessCheck: Duration(time.Second)},
		Storage: StorageConfig{
			Fsync:             "always",
			CompressThreshold: 4 * datasize.KB,
		},
		Sender:    SenderConfig{Workers: 4},
		Transport: TransportConfig{MaxMessageSize: 65000 * datasize.B},
		Writer: WriterDefaults{
			Mode:                "sync",
			Durability:          "volatile",
			HistoryDepth:        1,
			MaxSamples:          5000,
			PayloadMaxSize:      64 * datasize.KB,
			MaxBatchPayloadSize: writer.DefaultMaxBatchPayloadSize * datasize.B,
			MaxBlockingTime:     Duration(100 * time.Millisecond),
		},
		Admin: AdminConfig{HTTPAddr: ":7480"},
		Log:   logpkg.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "config: read")
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: parse %s", path)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: parse %s", path)
		}
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := pebblestore.ParseFsyncMode(c.Storage.Fsync); err != nil {
		return errs.Precondition("config: storage.fsync: %v", err)
	}
	if c.Sender.Workers < 0 {
		return errs.Precondition("config: sender.workers must not be negative")
	}
	if c.Transport.MaxMessageSize > 0 && c.Transport.MaxMessageSize.Bytes() < 64 {
		return errs.Precondition("config: transport.maxMessageSize %s too small", c.Transport.MaxMessageSize)
	}
	if _, ok := writer.ParseMode(c.Writer.Mode); !ok {
		return errs.Precondition("config: writer.mode %q", c.Writer.Mode)
	}
	if _, ok := writer.ParseDurability(c.Writer.Durability); !ok {
		return errs.Precondition("config: writer.durability %q", c.Writer.Durability)
	}
	if c.Writer.FragmentSize.Bytes() > 0xffff {
		return errs.Precondition("config: writer.fragmentSize %s exceeds 64KB", c.Writer.FragmentSize)
	}
	for _, s := range c.Writer.FixedLocators {
		if _, err := locator.Parse(s); err != nil {
			return errs.Precondition("config: writer.fixedLocators: %v", err)
		}
	}
	seen := make(map[string]bool)
	for _, fc := range c.FlowControllers {
		if fc.Name == "" {
			return errs.Precondition("config: flow controller without name")
		}
		if seen[fc.Name] {
			return errs.Precondition("config: flow controller %q declared twice", fc.Name)
		}
		seen[fc.Name] = true
		switch fc.Kind {
		case "throughput":
			if fc.BytesPerPeriod == 0 || fc.Period <= 0 {
				return errs.Precondition("config: flow controller %q needs bytesPerPeriod and period", fc.Name)
			}
		case "item-limit":
			if fc.MaxItems <= 0 {
				return errs.Precondition("config: flow controller %q needs maxItems", fc.Name)
			}
		case "priority":
			if fc.Expr == "" {
				return errs.Precondition("config: flow controller %q needs expr", fc.Name)
			}
		default:
			return errs.Precondition("config: flow controller %q: unknown kind %q", fc.Name, fc.Kind)
		}
	}
	for _, name := range c.Writer.FlowControllers {
		if !seen[name] {
			return errs.Precondition("config: writer.flowControllers: %q not declared", name)
		}
	}
	return nil
}
