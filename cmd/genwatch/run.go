package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"genwatch/internal/api"
	"genwatch/internal/camera"
	"genwatch/internal/clock"
	"genwatch/internal/config"
	"genwatch/internal/detector"
	"genwatch/internal/ledger"
	"genwatch/internal/logging"
	"genwatch/internal/metrics"
	"genwatch/internal/monitor"
	"genwatch/internal/publish"
	"genwatch/internal/stats"
	"genwatch/internal/telegram"
	"genwatch/internal/visualize"
	"genwatch/internal/ws"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitor until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, clk, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if opts.verbose {
				cfg.Log.Level = "debug"
			}
			return run(cfg, clk)
		},
	}
}

func run(cfg config.Config, clk clock.Real) error {
	lg := logging.Init(logging.Options{Folder: cfg.Log.Folder, File: cfg.Log.File, Level: cfg.Log.Level})
	defer lg.Close()
	logger := lg.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	led, err := ledger.Open(ctx, ledger.Options{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer led.Close()

	roi := cfg.Detection.ROI
	det, err := detector.New(detector.Config{
		X: roi.X, Y: roi.Y, Width: roi.Width, Height: roi.Height,
		Threshold:       cfg.Detection.BrightThreshold,
		MinBrightPixels: cfg.Detection.MinBrightPixels,
	})
	if err != nil {
		return err
	}

	cam := camera.New(camera.Options{
		URL:            cfg.Camera.StreamURL(),
		Name:           cfg.Camera.Identity(),
		FPS:            cfg.Camera.FPS,
		ConnectTimeout: cfg.Camera.ConnectTimeout,
		StaleAfter:     cfg.Camera.StaleAfter,
		FFmpegPath:     cfg.Camera.FFmpegPath,
		Logger:         logger,
	})

	rec := metrics.New()
	statsSvc := stats.New(led, clk, stats.WithCurrency(cfg.Currency))
	hub := ws.NewStateHub(logger)

	deps := monitor.Deps{
		Camera:     cam,
		Detector:   det,
		Ledger:     led,
		Annotator:  visualize.NewAnnotator(),
		Reporter:   statsSvc,
		Publishers: map[string]monitor.Publisher{"ws": hub},
		Metrics:    rec,
		Clock:      clk,
		Logger:     logger,
	}
	if cfg.Monitor.WithStats {
		deps.Composer = monitor.StatsComposer{Stats: statsSvc, Fuel: led, Logger: logger}
	}
	if dir := cfg.Monitor.SnapshotFolder; dir != "" {
		store, err := visualize.NewSnapshotStore(dir, logger)
		if err != nil {
			logger.Warn("snapshots disabled", "folder", dir, "error", err)
		} else {
			deps.Snapshots = store
		}
	}

	var bot *telegram.Bot
	if cfg.Telegram.Enabled {
		bot, err = telegram.NewBot(telegram.Config{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			Enabled:  true,
			APIBase:  cfg.Telegram.APIBase,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		deps.Notifier = bot
	}

	if cfg.MQTT.Broker != "" {
		p, err := publish.NewMQTT(publish.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			Logger:   logger,
		})
		if err != nil {
			logger.Error("MQTT publishing disabled", "error", err)
		} else {
			defer p.Close()
			deps.Publishers["mqtt"] = p
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		p := publish.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer p.Close()
		deps.Publishers["kafka"] = p
	}

	mon, err := monitor.New(monitor.Config{
		CheckInterval:    cfg.Monitor.CheckInterval,
		ReconnectDelay:   cfg.Monitor.ReconnectDelay,
		ErrorBackoff:     cfg.Monitor.ErrorBackoff,
		OnConfirmations:  cfg.Monitor.OnConfirmations,
		OffConfirmations: cfg.Monitor.OffConfirmations,
	}, deps)
	if err != nil {
		return err
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = mon.Run(ctx)
	}()

	if bot != nil && cfg.Telegram.Commands {
		commands := telegram.NewCommandHandler(bot, mon, statsSvc, led, clk, cfg.Currency)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := commands.StartPolling(ctx); err != nil {
				logger.Warn("telegram commands disabled", "error", err)
			}
		}()
	}

	if cfg.HTTP.Addr != "" {
		srv := api.New(api.Deps{
			Monitor:   mon,
			Store:     led,
			Stats:     statsSvc,
			Metrics:   rec.Handler(),
			WebSocket: ws.NewHandler(hub, mon.Status),
			Clock:     clk,
			Logger:    logger,
		})
		handleHTTPServer(ctx, cfg.HTTP.Addr, srv, &wg, errc, logger)
	}
	if cfg.GRPC.Addr != "" {
		handleGRPCServer(ctx, cfg.GRPC.Addr, func() bool { return mon.Status().Connected }, &wg, errc, logger)
	}

	logger.Info("exiting", "reason", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	wg.Wait()
	logger.Info("exited")
	return nil
}
