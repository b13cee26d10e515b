// Package config loads client and server settings from defaults, an optional
// YAML file and ROOM_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	clientws "github.com/omochice/socket-room/internal/client/ws"
	"github.com/omochice/socket-room/internal/room"
	serverws "github.com/omochice/socket-room/internal/transport/ws"
)

var validate = validator.New()

// Config holds every tunable of the client and the server.
type Config struct {
	ServerURL         string        `yaml:"server_url" env:"ROOM_SERVER_URL" validate:"required,url"`
	ListenAddr        string        `yaml:"listen_addr" env:"ROOM_LISTEN_ADDR" validate:"required"`
	Username          string        `yaml:"username" env:"ROOM_USERNAME" validate:"max=64"`
	AutoRejoin        bool          `yaml:"auto_rejoin" env:"ROOM_AUTO_REJOIN"`
	ReconnectInitial  time.Duration `yaml:"reconnect_initial" env:"ROOM_RECONNECT_INITIAL" validate:"gt=0"`
	ReconnectMax      time.Duration `yaml:"reconnect_max" env:"ROOM_RECONNECT_MAX" validate:"gtefield=ReconnectInitial"`
	ReconnectAttempts int           `yaml:"reconnect_attempts" env:"ROOM_RECONNECT_ATTEMPTS" validate:"gte=0"`
	DialTimeout       time.Duration `yaml:"dial_timeout" env:"ROOM_DIAL_TIMEOUT" validate:"gt=0"`
	OutgoingBuffer    int           `yaml:"outgoing_buffer" env:"ROOM_OUTGOING_BUFFER" validate:"gt=0"`
	MaxFrameSize      int64         `yaml:"max_frame_size" env:"ROOM_MAX_FRAME_SIZE" validate:"gt=0"`
	LogLevel          string        `yaml:"log_level" env:"ROOM_LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// Default returns the built-in settings.
func Default() Config {
	opts := clientws.DefaultOptions()
	return Config{
		ServerURL:        "ws://localhost:8080" + serverws.Path,
		ListenAddr:       ":8080",
		ReconnectInitial: opts.ReconnectInitial,
		ReconnectMax:     opts.ReconnectMax,
		DialTimeout:      opts.DialTimeout,
		OutgoingBuffer:   opts.OutgoingBuffer,
		MaxFrameSize:     opts.MaxFrameSize,
		LogLevel:         "info",
	}
}

// Load layers the YAML file at path (skipped when empty) and then the
// environment over the defaults. The result is not validated; callers apply
// flag overrides first and then call Validate.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level maps LogLevel to a slog level, defaulting to info.
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger builds a text logger on w at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.Level()}))
}

// RejoinPolicy maps AutoRejoin to a session policy.
func (c Config) RejoinPolicy() room.RejoinPolicy {
	if c.AutoRejoin {
		return room.RejoinAuto
	}
	return room.RejoinManual
}

// ClientOptions returns the transport options of the client.
func (c Config) ClientOptions() clientws.Options {
	return clientws.Options{
		DialTimeout:       c.DialTimeout,
		ReconnectInitial:  c.ReconnectInitial,
		ReconnectMax:      c.ReconnectMax,
		ReconnectAttempts: c.ReconnectAttempts,
		OutgoingBuffer:    c.OutgoingBuffer,
		MaxFrameSize:      c.MaxFrameSize,
	}
}

// ServerOptions returns the per-connection options of the server.
func (c Config) ServerOptions() serverws.Options {
	return serverws.Options{
		OutgoingBuffer: c.OutgoingBuffer,
		MaxFrameSize:   c.MaxFrameSize,
	}
}
