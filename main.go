package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pokerassist/internal/cards"
	"pokerassist/internal/config"
	"pokerassist/internal/emitter"
	"pokerassist/internal/history"
	"pokerassist/internal/models"
	"pokerassist/internal/server"
	"pokerassist/processing/capture"
	processing "pokerassist/processing/detector"
)

func main() {
	cfg, cfgPath, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogging(cfg.GetDebug())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cfgPath); err != nil {
		log.Fatal().Err(err).Msg("pokerassist stopped")
	}
}

func setupLogging(debug bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	setLevel(debug)
}

func setLevel(debug bool) {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func run(ctx context.Context, cfg *config.Config, cfgPath string) error {
	det, err := processing.NewRemoteDetector(processing.ClientConfig{
		BaseURL:     cfg.Inference.BaseURL,
		Timeout:     cfg.GetTimeout(),
		JPEGQuality: cfg.Inference.JPEGQuality,
	})
	if err != nil {
		return err
	}

	table := cards.NewTable(cfg.GetPlayers())

	var store *history.Store
	if cfg.History.Driver != "" {
		store, err = history.Open(ctx, cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		log.Info().Str("driver", cfg.History.Driver).Msg("capture history enabled")
	}

	if cfg.MQTT.Broker != "" {
		mq := emitter.NewMQTTEmitter(cfg.MQTT)
		if err := mq.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("mqtt unavailable, table will not be published")
		} else {
			defer mq.Disconnect()
			table.OnChange(func(s cards.Snapshot) {
				if err := mq.PublishTable(s); err != nil {
					log.Warn().Err(err).Msg("publish table")
				}
			})
		}
	}

	var proc *processing.Processor
	sinks := processing.Sinks{
		OnScan: func(dets []models.Detection) {
			if n := table.MergeBoard(dets); n > 0 {
				log.Info().Int("added", n).Msg("board updated")
			}
		},
		OnCapture: func(dets []models.Detection) {
			hand := table.ReplaceHand(dets)
			log.Info().Int("cards", len(hand)).Msg("hand captured")
			if store == nil {
				return
			}
			snap := table.Snapshot()
			if _, err := store.RecordCapture(ctx, history.Capture{
				Hand:        snap.Hand,
				Board:       snap.Board,
				Players:     snap.Players,
				Odds:        snap.Odds,
				InferenceMs: proc.Status().LastInferenceMs,
			}); err != nil {
				log.Error().Err(err).Msg("record capture")
			}
		},
		OnCaptureError: func(err error) {
			log.Error().Err(err).Msg("capture failed")
		},
	}
	proc = processing.NewProcessor(cfg, det, sinks)

	streamer, err := capture.NewStreamer(cfg)
	if err != nil {
		return err
	}
	if err := streamer.Start(); err != nil {
		return err
	}
	defer streamer.Stop()

	if err := proc.Start(ctx, streamer); err != nil {
		return err
	}
	defer proc.Stop()

	if cfgPath != "" {
		go func() {
			err := config.Watch(ctx, cfgPath, cfg, func(c *config.Config) {
				table.SetPlayers(c.GetPlayers())
				setLevel(c.GetDebug())
			})
			if err != nil {
				log.Warn().Err(err).Str("path", cfgPath).Msg("config watch stopped")
			}
		}()
	}

	var hist server.HistoryReader
	if store != nil {
		hist = store
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(proc, table, hist).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("inference", det.URL()).
			Str("source", string(cfg.ActiveSource)).
			Msg("pokerassist started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
