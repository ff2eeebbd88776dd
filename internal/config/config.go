package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Env      string // "dev" | "prod"
	LogLevel string

	// Self machine
	MachineID   string
	MachineType string
	MachineName string
	DeviceID    string

	// Stores
	DBPath        string // e.g. "./data/emec_local.db"
	RemoteDSN     string // empty = no remote configured
	RemoteTimeout time.Duration

	// Session engine
	GracePeriod   time.Duration
	MissThreshold int
	PollInterval  time.Duration
	HoursOpen     string // "HH:MM", both empty = unrestricted
	HoursClose    string

	// Sync
	SyncInterval     time.Duration
	OfflineThreshold time.Duration

	// Retention
	RetentionDays      int // 0 = keep forever
	PruneIntervalHours int // how often the pruner runs (default 6)

	// Local surfaces
	HTTPAddr string
	GRPCAddr string

	SeedFile string

	// Warnings lists values that were missing or malformed and replaced by
	// their defaults.
	Warnings []string
}

const envPrefix = "EMEC"

func defaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("machine.id", "")
	v.SetDefault("machine.type", "generic")
	v.SetDefault("machine.name", "")
	v.SetDefault("machine.device_id", "")
	v.SetDefault("db.path", "./data/emec_local.db")
	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.timeout_seconds", 10)
	v.SetDefault("grace_period_seconds", 300)
	v.SetDefault("miss_threshold", 3)
	v.SetDefault("poll_interval_ms", 500)
	v.SetDefault("sync_interval_seconds", 300)
	v.SetDefault("offline_threshold_seconds", 120)
	v.SetDefault("operating_hours.open", "")
	v.SetDefault("operating_hours.close", "")
	v.SetDefault("retention_days", 30)
	v.SetDefault("prune_interval_hours", 6)
	v.SetDefault("http_addr", "127.0.0.1:8081")
	v.SetDefault("grpc_addr", "")
	v.SetDefault("seed_file", "")
}

// Load reads defaults, then the optional YAML file, then EMEC_* environment
// variables. Bad values fall back to defaults and are reported in
// Config.Warnings; only an unreadable config file is an error.
func Load(file string) (Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config %s: %w", file, err)
			}
		}
	}

	l := loader{v: v}
	cfg := Config{
		Env:      l.oneOf("env", "dev", "prod"),
		LogLevel: l.logLevel(),

		MachineID:   strings.TrimSpace(v.GetString("machine.id")),
		MachineType: strings.TrimSpace(v.GetString("machine.type")),
		MachineName: strings.TrimSpace(v.GetString("machine.name")),
		DeviceID:    strings.TrimSpace(v.GetString("machine.device_id")),

		DBPath:        strings.TrimSpace(v.GetString("db.path")),
		RemoteDSN:     strings.TrimSpace(v.GetString("remote.dsn")),
		RemoteTimeout: time.Duration(l.positive("remote.timeout_seconds", 10)) * time.Second,

		GracePeriod:   time.Duration(l.positive("grace_period_seconds", 300)) * time.Second,
		MissThreshold: l.positive("miss_threshold", 3),
		PollInterval:  time.Duration(l.positive("poll_interval_ms", 500)) * time.Millisecond,

		SyncInterval:     time.Duration(l.positive("sync_interval_seconds", 300)) * time.Second,
		OfflineThreshold: time.Duration(l.positive("offline_threshold_seconds", 120)) * time.Second,

		RetentionDays:      l.nonNegative("retention_days", 30),
		PruneIntervalHours: l.positive("prune_interval_hours", 6),

		HTTPAddr: strings.TrimSpace(v.GetString("http_addr")),
		GRPCAddr: strings.TrimSpace(v.GetString("grpc_addr")),
		SeedFile: strings.TrimSpace(v.GetString("seed_file")),
	}
	cfg.HoursOpen, cfg.HoursClose = l.hours()

	if cfg.MachineID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "emec-station"
		}
		cfg.MachineID = host
	}
	if cfg.MachineName == "" {
		cfg.MachineName = strings.ToUpper(cfg.MachineID)
	}
	if cfg.MachineType == "" {
		cfg.MachineType = "generic"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./data/emec_local.db"
		l.warn("db.path empty, using %s", cfg.DBPath)
	}

	cfg.Warnings = l.warnings
	return cfg, nil
}

type loader struct {
	v        *viper.Viper
	warnings []string
}

func (l *loader) warn(format string, args ...any) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

func (l *loader) oneOf(key string, allowed ...string) string {
	val := strings.ToLower(strings.TrimSpace(l.v.GetString(key)))
	for _, a := range allowed {
		if val == a {
			return val
		}
	}
	// fail-soft: treat unknown as the first allowed value
	l.warn("%s=%q not recognised, using %s", key, val, allowed[0])
	return allowed[0]
}

func (l *loader) int(key string, def int) (int, bool) {
	n, err := cast.ToIntE(l.v.Get(key))
	if err != nil {
		l.warn("%s=%v is not an integer, using %d", key, l.v.Get(key), def)
		return def, false
	}
	return n, true
}

func (l *loader) positive(key string, def int) int {
	n, ok := l.int(key, def)
	if ok && n <= 0 {
		l.warn("%s=%d must be positive, using %d", key, n, def)
		return def
	}
	return n
}

func (l *loader) nonNegative(key string, def int) int {
	n, ok := l.int(key, def)
	if ok && n < 0 {
		l.warn("%s=%d must not be negative, using %d", key, n, def)
		return def
	}
	return n
}

func (l *loader) logLevel() string {
	val := strings.ToLower(strings.TrimSpace(l.v.GetString("log_level")))
	if val == "" {
		return "info"
	}
	if _, err := zapcore.ParseLevel(val); err != nil {
		l.warn("log_level=%q not recognised, using info", val)
		return "info"
	}
	return val
}

// hours returns the configured window, or two empty strings when it is
// unset or either end is malformed.
func (l *loader) hours() (string, string) {
	open := strings.TrimSpace(l.v.GetString("operating_hours.open"))
	closeAt := strings.TrimSpace(l.v.GetString("operating_hours.close"))
	if open == "" && closeAt == "" {
		return "", ""
	}
	for _, s := range []string{open, closeAt} {
		if _, err := time.Parse("15:04", s); err != nil {
			l.warn("operating_hours %q-%q is not an HH:MM pair, hours unrestricted", open, closeAt)
			return "", ""
		}
	}
	return open, closeAt
}
