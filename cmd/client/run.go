package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Wyydra/ya-client/internal/adapter/driven/auth"
	"github.com/Wyydra/ya-client/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/ya-client/internal/adapter/driven/media/pion"
	repo "github.com/Wyydra/ya-client/internal/adapter/driven/persistence/memory"
	handler "github.com/Wyydra/ya-client/internal/adapter/driving/http"
	"github.com/Wyydra/ya-client/internal/config"
	"github.com/Wyydra/ya-client/internal/core/codec"
	"github.com/Wyydra/ya-client/internal/core/domain"
	"github.com/Wyydra/ya-client/internal/core/service"
)

func newRunCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Sign in, keep both channels up and serve the local control API",
		PreRunE: c.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), c.cfg)
		},
	}
	d := config.Default()
	cmd.Flags().String("username", "", "Username to sign in as")
	cmd.Flags().String("token", "", "Access token")
	cmd.Flags().String("control", d.ControlAddr, "Listen address of the local control API")
	cmd.Flags().Duration("negotiation-timeout", d.Call.NegotiationTimeout, "Give up on a call that does not connect in time (0 disables)")
	cmd.Flags().Bool("signal-reconnect", d.Signal.Reconnect.Enabled, "Reconnect the signaling channel when it drops")
	cmd.Flags().Bool("chat-reconnect", d.Chat.Reconnect.Enabled, "Reconnect the chat channel when it drops")
	cmd.Flags().StringSlice("exclude-codec", d.Call.ExcludedCodecs, "Codecs stripped from session descriptions")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	creds := auth.NewStore("")
	signalCh := ws.NewChannel(ws.Config{
		Name:      "signal",
		URL:       cfg.SignalURL(),
		TypeKey:   domain.SignalTypeKey,
		Reconnect: ws.ReconnectPolicy(cfg.Signal.Reconnect),
	}, creds)
	chatCh := ws.NewChannel(ws.Config{
		Name:      "chat",
		URL:       cfg.ChatURL(),
		TypeKey:   domain.ChatTypeKey,
		Reconnect: ws.ReconnectPolicy(cfg.Chat.Reconnect),
	}, creds)

	factory, err := pion.NewFactory(cfg.Call.ICEServers)
	if err != nil {
		return err
	}

	policy := service.CallPolicy{
		ContinueOnLocalFailure: cfg.Call.ContinueOnLocalFailure,
		NegotiationTimeout:     cfg.Call.NegotiationTimeout,
		Constraints:            domain.MediaConstraints{Audio: cfg.Call.Audio},
	}
	if v := cfg.Call.Video; v.Width > 0 && v.Height > 0 {
		policy.Constraints.Video = &domain.VideoConstraints{Width: v.Width, Height: v.Height, FrameRate: v.FrameRate}
	}

	client := service.NewClient(service.ClientDeps{
		Signal:      signalCh,
		Chat:        chatCh,
		Credentials: creds,
		Negotiators: factory,
		Media:       pion.NewSampleSource(cfg.Username),
		Messages:    repo.NewMessageRepository(),
		Filter:      codec.NewFilter(cfg.Call.ExcludedCodecs...),
		Policy:      policy,
	})

	if cfg.Token != "" {
		if err := client.SignIn(ctx, cfg.Username, cfg.Token); err != nil {
			return err
		}
	} else {
		log.Warn().Msg("No token configured, staying signed out")
	}

	h := handler.NewHandler(client)
	srv := &http.Server{
		Addr:    cfg.ControlAddr,
		Handler: h.NewRouter(),
	}

	go func() {
		log.Info().Str("addr", cfg.ControlAddr).Str("server", cfg.Server).Msg("Starting control API")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start control API")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Control API forced to shutdown")
	}
	if err := client.SignOut(); err != nil {
		log.Error().Err(err).Msg("Sign-out failed")
	}
	log.Info().Msg("Client exited")
	return nil
}
