package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Reconnect struct {
	Enabled bool          `mapstructure:"enabled"`
	Delay   time.Duration `mapstructure:"delay"`
}

type ChannelConfig struct {
	Reconnect Reconnect `mapstructure:"reconnect"`
}

type Video struct {
	Width     int `mapstructure:"width"`
	Height    int `mapstructure:"height"`
	FrameRate int `mapstructure:"frame_rate"`
}

type Call struct {
	NegotiationTimeout     time.Duration `mapstructure:"negotiation_timeout"`
	ContinueOnLocalFailure bool          `mapstructure:"continue_on_local_failure"`
	ExcludedCodecs         []string      `mapstructure:"excluded_codecs"`
	ICEServers             []string      `mapstructure:"ice_servers"`
	Audio                  bool          `mapstructure:"audio"`
	Video                  Video         `mapstructure:"video"`
}

type Config struct {
	Server      string        `mapstructure:"server"`
	Secure      bool          `mapstructure:"secure"`
	ChatPath    string        `mapstructure:"chat_path"`
	SignalPath  string        `mapstructure:"signal_path"`
	Username    string        `mapstructure:"username"`
	Token       string        `mapstructure:"token"`
	ControlAddr string        `mapstructure:"control_addr"`
	LogLevel    string        `mapstructure:"log_level"`
	Chat        ChannelConfig `mapstructure:"chat"`
	Signal      ChannelConfig `mapstructure:"signal"`
	Call        Call          `mapstructure:"call"`
}

func Default() Config {
	return Config{
		Server:      "localhost:8000",
		ChatPath:    "/chat/",
		SignalPath:  "/ws/video/",
		ControlAddr: "127.0.0.1:8080",
		LogLevel:    "info",
		Chat: ChannelConfig{
			Reconnect: Reconnect{Enabled: false, Delay: 3 * time.Second},
		},
		Signal: ChannelConfig{
			Reconnect: Reconnect{Enabled: true, Delay: 3 * time.Second},
		},
		Call: Call{
			NegotiationTimeout:     30 * time.Second,
			ContinueOnLocalFailure: true,
			ExcludedCodecs:         []string{"AV1", "H265", "HEVC", "VP9"},
			ICEServers:             []string{"stun:stun.l.google.com:19302"},
			Audio:                  true,
			Video:                  Video{Width: 320, Height: 240, FrameRate: 15},
		},
	}
}

// SetDefaults registers every key with its default so env variables and
// config files can override any of them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server", d.Server)
	v.SetDefault("secure", d.Secure)
	v.SetDefault("chat_path", d.ChatPath)
	v.SetDefault("signal_path", d.SignalPath)
	v.SetDefault("username", d.Username)
	v.SetDefault("token", d.Token)
	v.SetDefault("control_addr", d.ControlAddr)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("chat.reconnect.enabled", d.Chat.Reconnect.Enabled)
	v.SetDefault("chat.reconnect.delay", d.Chat.Reconnect.Delay)
	v.SetDefault("signal.reconnect.enabled", d.Signal.Reconnect.Enabled)
	v.SetDefault("signal.reconnect.delay", d.Signal.Reconnect.Delay)
	v.SetDefault("call.negotiation_timeout", d.Call.NegotiationTimeout)
	v.SetDefault("call.continue_on_local_failure", d.Call.ContinueOnLocalFailure)
	v.SetDefault("call.excluded_codecs", d.Call.ExcludedCodecs)
	v.SetDefault("call.ice_servers", d.Call.ICEServers)
	v.SetDefault("call.audio", d.Call.Audio)
	v.SetDefault("call.video.width", d.Call.Video.Width)
	v.SetDefault("call.video.height", d.Call.Video.Height)
	v.SetDefault("call.video.frame_rate", d.Call.Video.FrameRate)
}

// New returns a viper instance reading YA_* env variables on top of the
// defaults.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("ya")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads an optional ya-client.{yaml,json,toml} from dir (when set) and
// unmarshals the result.
func Load(v *viper.Viper, dir string) (Config, error) {
	if dir != "" {
		v.SetConfigName("ya-client")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Server == "" {
		return errors.New("server is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.Signal.Reconnect.Enabled && c.Signal.Reconnect.Delay <= 0 {
		return errors.New("signal.reconnect.delay must be positive")
	}
	if c.Chat.Reconnect.Enabled && c.Chat.Reconnect.Delay <= 0 {
		return errors.New("chat.reconnect.delay must be positive")
	}
	if c.Call.NegotiationTimeout < 0 {
		return errors.New("call.negotiation_timeout cannot be negative")
	}
	return nil
}

func (c Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}

func (c Config) SignalURL() string { return c.endpoint(c.SignalPath) }

func (c Config) ChatURL() string { return c.endpoint(c.ChatPath) }

func (c Config) endpoint(path string) string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.Server, Path: path}
	return u.String()
}
