package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pantheravision/internal/alert"
	"pantheravision/internal/api"
	"pantheravision/internal/auth"
	"pantheravision/internal/config"
	"pantheravision/internal/database"
	"pantheravision/internal/motion"
	"pantheravision/internal/pipeline"
	"pantheravision/internal/pipeline/detectors"
	"pantheravision/internal/pipeline/strategies"
	"pantheravision/internal/stream"
	"pantheravision/internal/telegram"
	"pantheravision/internal/tracking"
	"pantheravision/internal/validation"
	"pantheravision/internal/ws"
)

func main() {
	var (
		configF = flag.String("config", config.DefaultPath, "Path to the YAML configuration file")
		sourceF = flag.String("source", "", "Video source (overrides camera.source)")
		addrF   = flag.String("addr", "", "Live view listen address (overrides stream.address)")
		recordF = flag.Bool("record", false, "Record the annotated stream (overrides recording.enabled)")
	)
	flag.Parse()

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[pantheravision] ", log.Ltime)
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}
	if *sourceF != "" {
		cfg.Camera.Source = *sourceF
	}
	if *addrF != "" {
		cfg.Stream.Address = *addrF
	}
	if *recordF {
		cfg.Recording.Enabled = true
	}

	// Acquisition
	var (
		source *pipeline.FrameSource
	)
	{
		capture, err := pipeline.NewCapture(pipeline.CaptureConfig{
			Backend:  cfg.Camera.Backend,
			Source:   cfg.Camera.Source,
			FPS:      cfg.Camera.FPS,
			Width:    cfg.Camera.Width,
			Height:   cfg.Camera.Height,
			Realtime: cfg.Camera.Realtime,
		})
		if err != nil {
			logger.Fatalf("failed to open video source: %v", err)
		}
		source = pipeline.NewFrameSource(pipeline.FrameSourceConfig{
			Source:            cfg.Camera.Source,
			Finite:            pipeline.ClassifySource(cfg.Camera.Source).Finite(),
			BufferSize:        cfg.Camera.BufferSize,
			ReconnectInterval: cfg.Camera.ReconnectInterval.D(),
		}, capture)
	}

	// Detection stages
	var (
		gate      pipeline.MotionGate
		strategy  pipeline.DetectionStrategy
		detector  pipeline.Detector
		tracker   *tracking.Tracker
		validator *validation.Validator
	)
	{
		mcfg := motion.DefaultConfig()
		mcfg.ProcessWidth = cfg.Motion.ProcessWidth
		mcfg.ProcessHeight = cfg.Motion.ProcessHeight
		mcfg.BlurSize = cfg.Motion.BlurSize
		mcfg.DiffThreshold = uint8(cfg.Motion.DiffThreshold)
		mcfg.MinArea = cfg.Motion.MinArea
		mcfg.VarThreshold = cfg.Motion.VarThreshold
		if gate, err = motion.New(cfg.Motion.Backend, mcfg); err != nil {
			logger.Fatalf("failed to create motion gate: %v", err)
		}

		mode := pipeline.DetectionMode(cfg.Detection.Mode)
		if strategy, err = strategies.Create(mode, cfg.Detection.ForcedInterval); err != nil {
			logger.Fatalf("failed to create detection strategy: %v", err)
		}

		if mode != pipeline.DetectionModeDisabled {
			detector, err = detectors.New(detectors.Config{
				Backend:      cfg.Detection.Backend,
				Endpoint:     cfg.Detection.Endpoint,
				HTTPEndpoint: cfg.Detection.HTTPEndpoint,
				ModelPath:    cfg.Detection.ModelPath,
				ONNXLibrary:  cfg.Detection.ONNXLibrary,
				Timeout:      cfg.Detection.Timeout.D(),
			})
			if err != nil {
				logger.Fatalf("failed to create detector: %v", err)
			}
			checkDetector(logger, detector, cfg.Detection.RequireHealthy)
		}

		tracker = tracking.NewTracker(tracking.Config{
			MaxAge:  cfg.Tracking.MaxAge.D(),
			MinHits: cfg.Tracking.MinHits,
		})
		validator = validation.New(validation.Config{
			MinAspect:        cfg.Validation.MinAspect,
			MaxAspect:        cfg.Validation.MaxAspect,
			MinWidth:         cfg.Validation.MinWidth,
			MinHeight:        cfg.Validation.MinHeight,
			MinMotionOverlap: cfg.Validation.MinMotionOverlap,
			MinHits:          cfg.Tracking.MinHits,
		}, tracker)
	}

	// Alerting
	var (
		db         *database.Database
		dispatcher *alert.Dispatcher
		bot        *telegram.Bot
	)
	{
		if db, err = database.Open(cfg.Database.Path); err != nil {
			logger.Fatalf("failed to open detection log: %v", err)
		}

		tcfg := telegram.Config{
			BotToken:   cfg.Alerting.Telegram.BotToken,
			ChatID:     cfg.Alerting.Telegram.ChatID,
			Enabled:    cfg.Alerting.Telegram.Enabled,
			Cooldown:   cfg.Alerting.Telegram.Cooldown.D(),
			APIBaseURL: cfg.Alerting.Telegram.APIBaseURL,
		}
		if err := telegram.ValidateConfig(tcfg); err != nil {
			logger.Fatalf("invalid telegram configuration: %v", err)
		}

		var notifiers []alert.Notifier
		if tcfg.Enabled {
			bot = telegram.NewBot(tcfg)
			notifiers = append(notifiers, bot)
		}
		if cfg.Alerting.Enabled {
			dispatcher = alert.NewDispatcher(alert.Config{
				QueueSize:   cfg.Alerting.QueueSize,
				DrainOnStop: cfg.Alerting.DrainOnStop,
				ImageDir:    cfg.Alerting.ImageDir,
				SharedStore: true,
			}, db, notifiers...)
			if err := dispatcher.Start(); err != nil {
				logger.Fatalf("failed to start alert dispatcher: %v", err)
			}
		}
	}

	// Live view
	var (
		publisher *stream.Publisher
		overlay   *stream.Overlay
		recorder  *stream.Recorder
	)
	{
		publisher = stream.NewPublisher(stream.PublisherConfig{
			Quality:    cfg.Stream.Quality,
			StaleAfter: cfg.Stream.StaleAfter.D(),
			Width:      cfg.Camera.Width,
			Height:     cfg.Camera.Height,
		})
		overlay = stream.NewOverlay(stream.OverlayConfig{
			WarningText: cfg.Stream.WarningText,
			FlashPeriod: cfg.Stream.FlashPeriod.D(),
			Label:       cfg.Label,
			ShowMotion:  cfg.Stream.ShowMotion,
		})
		if cfg.Recording.Enabled {
			recorder = stream.NewRecorder(stream.RecorderConfig{
				Path: cfg.Recording.Path,
				FPS:  cfg.Recording.FPS,
			})
		}
	}

	// Orchestration
	var (
		pipe *pipeline.Pipeline
	)
	{
		components := pipeline.Components{
			Source:     source,
			Motion:     gate,
			Strategy:   strategy,
			Detector:   detector,
			Validator:  validator,
			Associator: tracking.NewAssociator(cfg.Tracking.IoUMatch),
			Tracker:    tracker,
			Annotator:  overlay,
			Publisher:  publisher,
		}
		if dispatcher != nil {
			components.Alerts = dispatcher
		}
		if recorder != nil {
			components.Recorder = recorder
		}

		pipe, err = pipeline.New(pipeline.Config{
			Mode: pipeline.DetectionMode(cfg.Detection.Mode),
			Params: pipeline.DetectParams{
				Confidence: cfg.Detection.ConfThreshold,
				IoU:        cfg.Detection.IoUThreshold,
				Classes:    cfg.ClassIDs(),
			},
			IdleSleep:         cfg.Pipeline.IdleSleep.D(),
			AnonymousCooldown: cfg.Alerting.AnonymousCooldown.D(),
			LatencyWindow:     cfg.Pipeline.LatencyWindow,
			Label:             cfg.Label,
		}, components)
		if err != nil {
			logger.Fatalf("failed to create pipeline: %v", err)
		}
	}

	// Create channel used by both the signal handler and worker goroutines
	// to notify the main goroutine when to stop.
	errc := make(chan error, 1)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	httpCtx, cancelHTTP := context.WithCancel(context.Background())

	if err := source.Start(ctx); err != nil {
		logger.Fatalf("failed to start frame source: %v", err)
	}
	if err := pipe.Start(ctx); err != nil {
		logger.Fatalf("failed to start pipeline: %v", err)
	}
	go func() {
		<-pipe.Done()
		if err := pipe.Err(); err != nil {
			errc <- err
		}
	}()

	if bot != nil && cfg.Alerting.Telegram.Commands {
		handler := telegram.NewCommandHandler(bot, pipe, publisher, db)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := handler.StartPolling(ctx); err != nil {
				logger.Printf("telegram commands disabled: %v", err)
			}
		}()
	}

	if cfg.Stream.Enabled {
		var authn *auth.Authenticator
		if cfg.Auth.Enabled {
			authn, err = auth.NewAuthenticator(auth.Config{
				Enabled:   true,
				Username:  cfg.Auth.Username,
				Password:  cfg.Auth.Password,
				JWTSecret: cfg.Auth.JWTSecret,
				TokenTTL:  cfg.Auth.TokenTTL.D(),
			})
			if err != nil {
				logger.Fatalf("failed to configure authentication: %v", err)
			}
		}

		tracks := ws.NewTrackHub(cfg.Label)
		results, unsubscribe := pipe.Bus().SubscribeChannel(16)
		video := stream.NewVideoSocket(publisher)

		wg.Add(2)
		go func() {
			defer wg.Done()
			defer unsubscribe()
			tracks.Run(httpCtx, results)
		}()
		go func() {
			defer wg.Done()
			video.Run(httpCtx)
		}()

		opts := api.Options{
			Status:    pipe,
			Log:       db,
			Publisher: publisher,
			StreamFPS: cfg.Stream.FPS,
			Video:     video,
			Tracks:    tracks,
			Auth:      authn,
			Ready:     readiness(pipe, detector),
			Logger:    logger,
		}
		if dispatcher != nil {
			opts.Alerts = dispatcher
		}
		handleHTTPServer(httpCtx, cfg.Stream.Address, api.New(opts), &wg, errc, logger)
	}

	// Wait for signal or end of stream.
	if err := <-errc; errors.Is(err, pipeline.ErrEndOfStream) {
		logger.Printf("video source finished")
	} else {
		logger.Printf("exiting (%v)", err)
	}

	// Stop in dependency order: acquisition, orchestration, alerts,
	// recording, then the HTTP surface. The detection log is closed last
	// because HTTP and Telegram handlers read it until they exit.
	cancel()
	source.Stop()
	pipe.Stop()

	if dispatcher != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := dispatcher.Stop(stopCtx); err != nil {
			logger.Printf("alert dispatcher: %v", err)
		}
		stopCancel()
		stats := dispatcher.Stats()
		logger.Printf("alerts: %d persisted, %d notified, %d throttled, %d rejected, %d abandoned",
			stats.Persisted, stats.Notified, stats.NotifySkipped, stats.Rejected, stats.Abandoned)
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logger.Printf("recorder: %v", err)
		}
	}

	publisher.Close()
	pipe.Bus().Close()
	cancelHTTP()
	wg.Wait()

	if detector != nil {
		detector.Close()
	}
	if err := db.Close(); err != nil {
		logger.Printf("failed to close detection log: %v", err)
	}

	stats := pipe.Stats()
	logger.Printf("processed %d frames, %d inferences, %d accepted detections", stats.FramesProcessed, stats.Inferences, stats.Accepted)
	logger.Println("exited")
}

// checkDetector probes the backend once at startup
func checkDetector(logger *log.Logger, d pipeline.Detector, required bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if d.IsHealthy(ctx) {
		logger.Printf("detector %s is healthy", d.Name())
		return
	}
	if required {
		logger.Fatalf("detector %s is unreachable", d.Name())
	}
	logger.Printf("detector %s is not healthy yet; frames will be processed without detections until it recovers", d.Name())
}

func readiness(pipe *pipeline.Pipeline, d pipeline.Detector) func(context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-pipe.Done():
			return errors.New("pipeline stopped")
		default:
		}
		if d != nil && !d.IsHealthy(ctx) {
			return fmt.Errorf("detector %s is unhealthy", d.Name())
		}
		return nil
	}
}
