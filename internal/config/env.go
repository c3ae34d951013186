package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
)

// FromEnv overlays RTPS_* environment variables onto cfg. Malformed values
// are ignored; Validate catches what survives.
func FromEnv(cfg *Config) {
	if v := os.Getenv("RTPS_PARTICIPANT_PREFIX"); v != "" {
		cfg.Participant.Prefix = v
	}
	if v := os.Getenv("RTPS_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("RTPS_FSYNC"); v != "" {
		cfg.Storage.Fsync = v
	}
	envDuration("RTPS_FSYNC_INTERVAL", &cfg.Storage.FsyncInterval)
	envSize("RTPS_COMPRESS_THRESHOLD", &cfg.Storage.CompressThreshold)
	if v := os.Getenv("RTPS_SENDER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sender.Workers = n
		}
	}
	if v := os.Getenv("RTPS_UDP_LISTEN"); v != "" {
		cfg.Transport.UDPListen = v
	}
	if v := os.Getenv("RTPS_GRPC_LISTEN"); v != "" {
		cfg.Transport.GRPCListen = v
	}
	envSize("RTPS_MAX_MESSAGE_SIZE", &cfg.Transport.MaxMessageSize)
	if v := os.Getenv("RTPS_WRITER_MODE"); v != "" {
		cfg.Writer.Mode = v
	}
	if v := os.Getenv("RTPS_WRITER_DURABILITY"); v != "" {
		cfg.Writer.Durability = v
	}
	if v := os.Getenv("RTPS_WRITER_HISTORY_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Writer.HistoryDepth = n
		}
	}
	envSize("RTPS_WRITER_PAYLOAD_MAX_SIZE", &cfg.Writer.PayloadMaxSize)
	envSize("RTPS_WRITER_FRAGMENT_SIZE", &cfg.Writer.FragmentSize)
	envDuration("RTPS_WRITER_MAX_BLOCKING_TIME", &cfg.Writer.MaxBlockingTime)
	if v := os.Getenv("RTPS_WRITER_FLOW_CONTROLLERS"); v != "" {
		cfg.Writer.FlowControllers = splitList(v)
	}
	if v := os.Getenv("RTPS_HTTP_ADDR"); v != "" {
		cfg.Admin.HTTPAddr = v
	}
	if v := os.Getenv("RTPS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RTPS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func envSize(key string, dst *datasize.ByteSize) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var b datasize.ByteSize
	if err := b.UnmarshalText([]byte(v)); err == nil {
		*dst = b
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
