package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fvg-systemv1/config"
	"fvg-systemv1/internal/detector"
	"fvg-systemv1/internal/engine"
	"fvg-systemv1/internal/exchange"
	"fvg-systemv1/internal/indicator"
	"fvg-systemv1/internal/logger"
	"fvg-systemv1/internal/metrics"
	"fvg-systemv1/internal/model"
	"fvg-systemv1/internal/notification"
	"fvg-systemv1/internal/risk"
	"fvg-systemv1/internal/schedule"
	redisstore "fvg-systemv1/internal/store/redis"
	sqlitestore "fvg-systemv1/internal/store/sqlite"
	"fvg-systemv1/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		configPath = flag.String("config", "config/config.yaml", "path to YAML config")
		live       = flag.Bool("live", false, "place real orders (overrides paper_trading)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[bot] config: %v", err)
	}
	paper := cfg.PaperTrading && !*live
	creds := config.LoadCredentials(!paper)

	slogger := logger.Init("fvgbot", logger.ParseLevel(cfg.LogLevel))

	bar, err := cfg.BarDuration()
	if err != nil {
		log.Fatalf("[bot] config: %v", err)
	}
	buffer := time.Duration(cfg.PollBufferSeconds) * time.Second

	mode := "live"
	if paper {
		mode = "paper"
	}
	log.Printf("[bot] starting in %s mode: %d symbols, %s bars, tick buffer %v",
		mode, len(cfg.Symbols), cfg.Timeframe, buffer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Durable state ----
	os.MkdirAll(filepath.Dir(cfg.StatePath), 0o755)
	store, err := sqlitestore.New(cfg.StatePath)
	if err != nil {
		log.Fatalf("[bot] state store init failed: %v", err)
	}
	defer store.Close()

	// ---- Event stream (optional) ----
	var recorder model.EventRecorder = model.NopRecorder{}
	var publisher *redisstore.Publisher
	if cfg.RedisAddr != "" {
		publisher, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: creds.RedisPassword,
		})
		if err != nil {
			log.Printf("[bot] WARNING: redis init failed: %v (continuing without event stream)", err)
		} else {
			recorder = publisher
			defer publisher.Close()
		}
	}

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()
	if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), store.DB(), 30*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 30*time.Second)
	}

	// ---- Exchange ----
	client := exchange.NewClient(exchange.ClientConfig{
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
	})
	client.StartTickerStream(ctx, cfg.Symbols)

	var executor model.OrderExecutor
	if paper {
		executor = exchange.NewPaperExecutor(client, cfg.SlippageBps)
	} else {
		executor = exchange.NewLiveExecutor(client)
	}

	// ---- Notifications ----
	notifier := buildNotifier()

	// ---- Decision engine ----
	macdCfg := indicator.MACDConfig{
		Fast:   cfg.Strategy.MACDFast,
		Slow:   cfg.Strategy.MACDSlow,
		Signal: cfg.Strategy.MACDSignal,
	}
	eng := engine.New(engine.Options{
		Symbols:         cfg.Symbols,
		Timeframe:       cfg.Timeframe,
		BarDuration:     bar,
		CandleLimit:     cfg.OHLCVLimit,
		StartingBalance: cfg.StartingBalance,
		MACD:            macdCfg,
	}, engine.Deps{
		Data:     client,
		Executor: executor,
		Store:    store,
		Events:   recorder,
		Logger:   slogger,
		Metrics:  prom,
		Notifier: notifier,
		Detector: detector.New(detector.Config{
			MaxActive: cfg.Detector.MaxActiveGaps,
			MaxBarAge: cfg.Detector.MaxGapAgeBars,
			Timeframe: bar,
		}),
		Evaluator: strategy.New(strategy.Config{
			StopBufferPct:      cfg.Strategy.StopBufferPct,
			RewardRisk:         cfg.Strategy.RewardRisk,
			RequireRecentCross: cfg.Strategy.RequireRecentCross,
			CrossLookback:      cfg.Strategy.CrossLookback,
			MACD:               macdCfg,
		}),
		Risk: risk.New(risk.Limits{
			RiskPct:           cfg.Risk.RiskPerTrade,
			MaxOpenPositions:  cfg.Risk.MaxConcurrentPositions,
			DailyLossLimitPct: cfg.Risk.DailyLossLimitPct,
		}, client),
	})
	if err := eng.Start(); err != nil {
		log.Fatalf("[bot] state load failed: %v", err)
	}

	log.Printf("[bot] %s", schedule.StatusString(time.Now(), bar, buffer))

	// ---- Decision loop: one tick per candle close + buffer ----
	go func() {
		for {
			wait := schedule.TimeUntilTick(time.Now(), bar, buffer)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			now := time.Now()
			tickCtx := logger.WithTraceID(ctx, logger.GenerateTraceID("tick", now))

			start := time.Now()
			if err := eng.Tick(tickCtx); err != nil {
				log.Printf("[bot] tick aborted: %v", err)
			}
			prom.TicksTotal.Inc()
			prom.TickDuration.Observe(time.Since(start).Seconds())
			health.SetLastTickTime(now)
		}
	}()

	<-sigCh
	log.Println("[bot] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[bot] shutdown complete.")
}

// buildNotifier assembles alert channels from the environment. With no
// channels configured, alerts go to the log.
func buildNotifier() notification.Notifier {
	var multi notification.Multi
	if token, chat := os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID"); token != "" && chat != "" {
		multi = append(multi, notification.NewTelegramNotifier(token, chat))
	}
	if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		multi = append(multi, notification.NewWebhookNotifier(url))
	}
	if len(multi) == 0 {
		return notification.NewLogNotifier()
	}
	return multi
}
