package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Wyydra/ya-client/internal/config"
)

type cli struct {
	v         *viper.Viper
	configDir string
	cfg       config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New()}

	root := &cobra.Command{
		Use:           "ya-client",
		Short:         "ya chat and call client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configDir, "config-dir", ".", "Directory searched for ya-client.{yaml,json,toml}")
	root.PersistentFlags().String("server", config.Default().Server, "Backend host:port")
	root.PersistentFlags().Bool("secure", false, "Use wss:// instead of ws://")
	root.PersistentFlags().String("log", config.Default().LogLevel, "debug, info, warn, error")

	root.AddCommand(newRunCmd(c))
	return root
}

// load binds flags, reads the config and installs the logger.
func (c *cli) load(cmd *cobra.Command, _ []string) error {
	binds := map[string]string{
		"server":                   "server",
		"secure":                   "secure",
		"log_level":                "log",
		"username":                 "username",
		"token":                    "token",
		"control_addr":             "control",
		"call.negotiation_timeout": "negotiation-timeout",
		"signal.reconnect.enabled": "signal-reconnect",
		"chat.reconnect.enabled":   "chat-reconnect",
		"call.excluded_codecs":     "exclude-codec",
	}
	for key, name := range binds {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := c.v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := config.Load(c.v, c.configDir)
	if err != nil {
		return err
	}
	c.cfg = cfg

	w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zerolog.SetGlobalLevel(cfg.Level())
	log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()

	if used := c.v.ConfigFileUsed(); used != "" {
		log.Debug().Str("file", used).Msg("Using config file")
	}
	return nil
}
