// Package config loads dspd/dspctl's configuration: every item in
// spec.md §6's "Configurable options" table, grouped the way the
// teacher's pkg/config groups dittofs-server settings — a struct
// carrying mapstructure/yaml/validate tags, decoded through viper with
// flags > environment (DSP_*) > config file > built-in defaults
// precedence.
package config

import (
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix viper binds environment overrides under,
// e.g. DSP_FORE_QUEUE_DEPTH for fore.queue_depth.
const EnvPrefix = "DSP"

// FrameConfig selects the frame-level digest and compression options
// of spec.md §4.1 / §6 (HEADER_DIGEST, FRAME_DIGEST, PAYLOAD_DIGEST,
// DIGEST_DATA, PAYLOAD_COMPRESS).
type FrameConfig struct {
	HeaderDigest    string `mapstructure:"header_digest" yaml:"header_digest" validate:"oneof=none crc32 adler32"`
	FrameDigest     string `mapstructure:"frame_digest" yaml:"frame_digest" validate:"oneof=none crc32 adler32"`
	PayloadDigest   string `mapstructure:"payload_digest" yaml:"payload_digest" validate:"oneof=none crc32 adler32"`
	DigestData      bool   `mapstructure:"digest_data" yaml:"digest_data"`
	PayloadCompress string `mapstructure:"payload_compress" yaml:"payload_compress" validate:"oneof=none deflate gzip lz4"`
}

// ChannelConfig is the pair of per-direction settings spec.md §6
// enumerates separately for the fore and back channel (FORE_QUEUE_DEPTH
// vs BACK_QUEUE_DEPTH, and so on).
type ChannelConfig struct {
	QueueDepth  uint32 `mapstructure:"queue_depth" yaml:"queue_depth"`
	MaxRequest  int    `mapstructure:"max_request" yaml:"max_request" validate:"gte=0"`
	MaxResponse int    `mapstructure:"max_response" yaml:"max_response" validate:"gte=0"`
}

// TransportConfig covers the socket- and connection-lifecycle options
// of spec.md §6 that apply per physical transport rather than per
// channel.
type TransportConfig struct {
	SocketSendBuffer    int           `mapstructure:"socket_send_buffer" yaml:"socket_send_buffer" validate:"gte=0"`
	SocketReceiveBuffer int           `mapstructure:"socket_receive_buffer" yaml:"socket_receive_buffer" validate:"gte=0"`
	MaxTransports       uint32        `mapstructure:"max_transports" yaml:"max_transports"`
	MinKeepaliveTime    time.Duration `mapstructure:"min_keepalive_time" yaml:"min_keepalive_time"`
}

// LoggingConfig mirrors internal/logger.Config's own three fields so
// it can be loaded through the same viper/mapstructure pipeline as
// everything else instead of being configured ad hoc.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
	Output string `mapstructure:"output" yaml:"output"`
}

// Config is the full dspd/dspctl configuration surface: spec.md §6's
// Configurable options table, plus the listen address and logging
// settings every process needs regardless of protocol options.
type Config struct {
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required"`
	Codec  string `mapstructure:"codec" yaml:"codec" validate:"oneof=json xdr"`

	Frame FrameConfig `mapstructure:"frame" yaml:"frame"`
	Fore  ChannelConfig `mapstructure:"fore" yaml:"fore"`
	Back  ChannelConfig `mapstructure:"back" yaml:"back"`

	// Scheduler is XPORT_SCHEDULER: shared by fore and back, since a
	// channel's choice of transport-scheduling policy isn't meaningfully
	// direction-specific.
	Scheduler      string  `mapstructure:"scheduler" yaml:"scheduler" validate:"oneof=round_robin least_queue"`
	SyncDispatch   bool    `mapstructure:"sync_dispatch" yaml:"sync_dispatch"`
	BandwidthLimit float64 `mapstructure:"bandwidth_limit" yaml:"bandwidth_limit" validate:"gte=0"`

	LogoutTimeout    time.Duration `mapstructure:"logout_timeout" yaml:"logout_timeout"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval" yaml:"recovery_interval"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout" yaml:"recovery_timeout"`

	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// Default returns the built-in configuration every load starts from,
// before a config file, environment variables, or flags override it.
func Default() Config {
	return Config{
		Listen: "127.0.0.1:7391",
		Codec:  "json",
		Frame: FrameConfig{
			HeaderDigest:    "crc32",
			FrameDigest:     "none",
			PayloadDigest:   "crc32",
			DigestData:      false,
			PayloadCompress: "none",
		},
		Fore: ChannelConfig{QueueDepth: 256, MaxRequest: 4 << 20, MaxResponse: 4 << 20},
		Back: ChannelConfig{QueueDepth: 64, MaxRequest: 4 << 20, MaxResponse: 4 << 20},

		Scheduler:      "round_robin",
		SyncDispatch:   false,
		BandwidthLimit: 0,

		LogoutTimeout:    10 * time.Second,
		RecoveryInterval: 2 * time.Second,
		RecoveryTimeout:  60 * time.Second,

		Transport: TransportConfig{
			MaxTransports:    8,
			MinKeepaliveTime: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "INFO", Format: "text", Output: "stdout"},
	}
}

// Load builds a Config from, in increasing precedence: Default(), an
// optional YAML file at path (ignored if path is empty or the file
// doesn't exist), and DSP_-prefixed environment variables. It does not
// bind CLI flags; it is LoadWithFlags with a nil FlagBinder.
func Load(path string) (Config, error) {
	return LoadWithFlags(path, nil)
}

// FlagBinder lets a caller bind its own pflag.FlagSet into the viper
// instance before the final decode, giving CLI flags top precedence
// over environment variables and the config file, without this package
// importing spf13/pflag directly. cmd/dspd passes nil and handles its
// --listen override itself after loading.
type FlagBinder func(v *viper.Viper) error

// LoadWithFlags is Load plus an optional FlagBinder hook run between
// the environment and the final Unmarshal, so CLI flags win over
// everything else.
func LoadWithFlags(path string, bind FlagBinder) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	if bind != nil {
		if err := bind(v); err != nil {
			return Config{}, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults seeds v with every field of defaults under its
// mapstructure/yaml key path, so an unset file/env/flag value still
// resolves to a sensible default after Unmarshal.
func setDefaults(v *viper.Viper, defaults Config) {
	v.SetDefault("listen", defaults.Listen)
	v.SetDefault("codec", defaults.Codec)

	v.SetDefault("frame.header_digest", defaults.Frame.HeaderDigest)
	v.SetDefault("frame.frame_digest", defaults.Frame.FrameDigest)
	v.SetDefault("frame.payload_digest", defaults.Frame.PayloadDigest)
	v.SetDefault("frame.digest_data", defaults.Frame.DigestData)
	v.SetDefault("frame.payload_compress", defaults.Frame.PayloadCompress)

	v.SetDefault("fore.queue_depth", defaults.Fore.QueueDepth)
	v.SetDefault("fore.max_request", defaults.Fore.MaxRequest)
	v.SetDefault("fore.max_response", defaults.Fore.MaxResponse)
	v.SetDefault("back.queue_depth", defaults.Back.QueueDepth)
	v.SetDefault("back.max_request", defaults.Back.MaxRequest)
	v.SetDefault("back.max_response", defaults.Back.MaxResponse)

	v.SetDefault("scheduler", defaults.Scheduler)
	v.SetDefault("sync_dispatch", defaults.SyncDispatch)
	v.SetDefault("bandwidth_limit", defaults.BandwidthLimit)

	v.SetDefault("logout_timeout", defaults.LogoutTimeout)
	v.SetDefault("recovery_interval", defaults.RecoveryInterval)
	v.SetDefault("recovery_timeout", defaults.RecoveryTimeout)

	v.SetDefault("transport.socket_send_buffer", defaults.Transport.SocketSendBuffer)
	v.SetDefault("transport.socket_receive_buffer", defaults.Transport.SocketReceiveBuffer)
	v.SetDefault("transport.max_transports", defaults.Transport.MaxTransports)
	v.SetDefault("transport.min_keepalive_time", defaults.Transport.MinKeepaliveTime)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.output", defaults.Logging.Output)
}

var validate = validator.New()

// Validate runs the struct-tag validation rules over cfg, returning a
// wrapped validator.ValidationErrors on the first failing field set.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// Dump renders cfg as YAML, for `dspd config-dump`.
func Dump(cfg Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	return out, nil
}
