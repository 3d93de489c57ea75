// Package config provides a go-simpler.org/env configuration table loaded
// from environment variables with an optional .env file under the XDG
// config directory.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"go-simpler.org/env"

	"aether.dev/pkg/utils/apputil"
	"aether.dev/pkg/utils/chk"
	env2 "aether.dev/pkg/utils/env"
	"aether.dev/pkg/utils/log"
	"aether.dev/pkg/utils/lol"
	"aether.dev/pkg/version"
)

// C holds the relay configuration: network surfaces, storage backend
// selection, validation policy knobs and delivery tuning.
type C struct {
	AppName  string `env:"AETHER_APP_NAME" default:"aether"`
	Config   string `env:"AETHER_CONFIG_DIR" usage:"location of the optional .env configuration file" default:"~/.config/aether"`
	DataDir  string `env:"AETHER_DATA_DIR" usage:"storage location for the event store" default:"~/.local/share/aether"`
	Listen   string `env:"AETHER_LISTEN" default:"0.0.0.0" usage:"network listen address"`
	Port     int    `env:"AETHER_PORT" default:"3334" usage:"port for the websocket and http surfaces"`
	LogLevel string `env:"AETHER_LOG_LEVEL" default:"info" usage:"log level: fatal error warn info debug trace"`

	Store      string `env:"AETHER_STORE" default:"memory" usage:"event store backend: memory, sqlite, badger"`
	SqlitePath string `env:"AETHER_SQLITE_PATH" usage:"database file path, defaults to <data dir>/aether.db"`

	TLSCert  string `env:"AETHER_TLS_CERT" usage:"TLS certificate path; enables the QUIC surface"`
	TLSKey   string `env:"AETHER_TLS_KEY" usage:"TLS key path"`
	QUICPort int    `env:"AETHER_QUIC_PORT" default:"3335" usage:"UDP port for the QUIC surface"`

	NostrEnable bool `env:"AETHER_NOSTR_ENABLE" default:"true" usage:"serve the NIP-01 adapter at /nostr"`
	HTTPEnable  bool `env:"AETHER_HTTP_ENABLE" default:"true" usage:"serve the REST/SSE gateway under /v1"`

	MaxSkew       time.Duration `env:"AETHER_MAX_SKEW" default:"60s" usage:"how far in the future created_at may point"`
	PowDifficulty int           `env:"AETHER_POW_DIFFICULTY" default:"0" usage:"required leading zero bits on event ids, 0 disables"`
	Retention     time.Duration `env:"AETHER_RETENTION" default:"0" usage:"TTL for immutable events, 0 keeps forever"`
	MaxEventSize  int           `env:"AETHER_MAX_EVENT_SIZE" default:"0" usage:"cap on the canonical event encoding in bytes, 0 means the content cap alone applies"`

	OutboxSize        int           `env:"AETHER_OUTBOX_SIZE" default:"1024" usage:"per subscription delivery queue bound"`
	RateLimitCapacity int           `env:"AETHER_RATE_LIMIT_CAPACITY" default:"0" usage:"token bucket burst per publisher, 0 disables rate limiting"`
	RateLimitPerSec   float64       `env:"AETHER_RATE_LIMIT_PER_SEC" default:"10" usage:"token bucket refill per publisher per second"`
	HelloTimeout      time.Duration `env:"AETHER_HELLO_TIMEOUT" default:"10s" usage:"how long a native connection may sit without a HELLO"`
	NoiseRequired     bool          `env:"AETHER_NOISE_REQUIRED" default:"false" usage:"demand the transport encryption upgrade on native connections"`

	Pprof bool `env:"AETHER_PPROF" default:"false" usage:"enable pprof on 127.0.0.1:6060"`
}

// New loads the configuration from the process environment, then overlays
// the .env file from the config directory when one exists.
func New() (cfg *C, err error) {
	cfg = &C{}
	if err = env.Load(cfg, &env.Options{SliceSep: ","}); chk.T(err) {
		return
	}
	if cfg.Config == "" || strings.Contains(cfg.Config, "~") {
		cfg.Config = filepath.Join(xdg.ConfigHome, cfg.AppName)
	}
	if cfg.DataDir == "" || strings.Contains(cfg.DataDir, "~") {
		cfg.DataDir = filepath.Join(xdg.DataHome, cfg.AppName)
	}
	envPath := filepath.Join(cfg.Config, ".env")
	if apputil.FileExists(envPath) {
		var e env2.Env
		if e, err = env2.GetEnv(envPath); chk.T(err) {
			return
		}
		if err = env.Load(
			cfg, &env.Options{SliceSep: ",", Source: e},
		); chk.E(err) {
			return
		}
		lol.SetLogLevel(cfg.LogLevel)
		log.I.F("loaded configuration from %s", envPath)
	}
	if cfg.SqlitePath == "" {
		cfg.SqlitePath = filepath.Join(cfg.DataDir, "aether.db")
	}
	return
}

// HelpRequested reports whether the first argument asks for help.
func HelpRequested() (help bool) {
	if len(os.Args) > 1 {
		switch strings.ToLower(os.Args[1]) {
		case "help", "-h", "--h", "-help", "--help", "?":
			help = true
		}
	}
	return
}

// GetEnv reports whether the first argument is "env", requesting a dump of
// the effective configuration.
func GetEnv() (requested bool) {
	if len(os.Args) > 1 {
		return strings.ToLower(os.Args[1]) == "env"
	}
	return
}

// KV is a key/value pair.
type KV struct{ Key, Value string }

// KVSlice sorts key/value pairs by key.
type KVSlice []KV

func (kv KVSlice) Len() int           { return len(kv) }
func (kv KVSlice) Less(i, j int) bool { return kv[i].Key < kv[j].Key }
func (kv KVSlice) Swap(i, j int)      { kv[i], kv[j] = kv[j], kv[i] }

// EnvKV extracts the env-tagged fields of a configuration value.
func EnvKV(cfg any) (m KVSlice) {
	t := reflect.TypeOf(cfg)
	for i := 0; i < t.NumField(); i++ {
		k := t.Field(i).Tag.Get("env")
		if k == "" {
			continue
		}
		v := reflect.ValueOf(cfg).Field(i).Interface()
		var val string
		switch v.(type) {
		case string:
			val = v.(string)
		case int, bool, float64, time.Duration:
			val = fmt.Sprint(v)
		case []string:
			arr := v.([]string)
			if len(arr) > 0 {
				val = strings.Join(arr, ",")
			}
		}
		m = append(m, KV{k, val})
	}
	return
}

// PrintEnv writes the effective configuration as sorted KEY=value lines.
func PrintEnv(cfg *C, printer io.Writer) {
	kvs := EnvKV(*cfg)
	sort.Sort(kvs)
	for _, v := range kvs {
		_, _ = fmt.Fprintf(printer, "%s=%s\n", v.Key, v.Value)
	}
}

// PrintHelp writes the version banner and the environment variable usage
// table.
func PrintHelp(cfg *C, printer io.Writer) {
	_, _ = fmt.Fprintf(printer, "%s %s\n\n", cfg.AppName, version.V)
	_, _ = fmt.Fprintf(
		printer, "Environment variables that configure %s:\n\n", cfg.AppName,
	)
	env.Usage(cfg, printer, &env.Options{SliceSep: ","})
	_, _ = fmt.Fprintf(
		printer,
		"\nCLI parameter 'help' also prints this information.\n"+
			"A .env file at %s is loaded automatically when present;\n"+
			"the process environment overrides it.\n\n",
		filepath.Join(cfg.Config, ".env"),
	)
}
