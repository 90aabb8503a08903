package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tick-analytics/config"
	"tick-analytics/internal/api"
	"tick-analytics/internal/engine"
	"tick-analytics/internal/gateway"
	"tick-analytics/internal/logger"
	"tick-analytics/internal/marketdata/agg"
	"tick-analytics/internal/marketdata/bus"
	"tick-analytics/internal/marketdata/closedetector"
	"tick-analytics/internal/marketdata/greeks"
	"tick-analytics/internal/marketdata/history"
	"tick-analytics/internal/marketdata/ws"
	"tick-analytics/internal/marketdata/wssim"
	"tick-analytics/internal/markethours"
	"tick-analytics/internal/metrics"
	"tick-analytics/internal/model"
	"tick-analytics/internal/notification"
	redisstore "tick-analytics/internal/store/redis"
	"tick-analytics/internal/store/sqldb"
	smartconnect "tick-analytics/pkg/smartconnect"
)

type serveOpts struct {
	noFeed     bool
	feedURL    string
	replaySize int
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	var opts serveOpts
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live analytics pipeline, query API and WebSocket gateway",
		Example: `  analyticsd serve
  analyticsd serve --no-feed
  analyticsd serve --feed-url ws://localhost:9001/ticks`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init("analyticsd", logger.ParseLevel(cfg.LogLevel))
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.noFeed, "no-feed", false, "serve stored data only, without the SmartAPI feed")
	cmd.Flags().StringVar(&opts.feedURL, "feed-url", "", "read JSON ticks from this WebSocket instead of SmartAPI")
	cmd.Flags().IntVar(&opts.replaySize, "replay-size", 512, "envelopes kept per channel for WebSocket replay")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, opts serveOpts) error {
	log.Println("[serve] starting...")

	// ---- Settings ----
	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		return err
	}
	holidays, err := settings.Holidays()
	if err != nil {
		return err
	}
	markethours.AddHolidays(holidays)
	if len(settings.Instruments) == 0 {
		return fmt.Errorf("serve: no instruments configured in %s", cfg.SettingsPath)
	}
	byID := make(map[string]model.Instrument, len(settings.Instruments))
	for _, inst := range settings.Instruments {
		byID[inst.SecurityID] = inst
	}

	if opts.noFeed && opts.feedURL != "" {
		return errors.New("serve: --no-feed and --feed-url are mutually exclusive")
	}
	feedEnabled := !opts.noFeed
	liveFeed := feedEnabled && opts.feedURL == ""
	if liveFeed {
		if err := cfg.RequireFeed(); err != nil {
			return fmt.Errorf("%w (use --no-feed to run without the live feed)", err)
		}
	}

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(feedEnabled, cfg.RedisAddr != "")

	// ---- Durable stores ----
	store, err := sqldb.New(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Profiles.Prune(ctx); err != nil {
		log.Printf("[serve] profile prune: %v", err)
	}

	// ---- SmartAPI session (shared by backfill, greeks and feed) ----
	var (
		sc     *smartconnect.SmartConnect
		bars   model.HistoricalBars
		poller *greeks.Poller
	)
	if liveFeed {
		sc = smartconnect.NewSmartConnect(smartconnect.Config{APIKey: cfg.AngelAPIKey})
		hist := history.New(sc)
		hist.OnFetch = func(id string, n int, err error) {
			if err != nil {
				log.Printf("[serve] backfill fetch %s failed: %v", id, err)
			}
		}
		bars = hist
		poller = greeks.New(sc, settings.Instruments, cfg.GreeksPoll)
		poller.OnPoll = func(err error) {
			prom.GreeksPolls.Inc()
			if err != nil {
				prom.GreeksPollErrors.Inc()
			}
		}
	}

	// ---- Engine ----
	an, err := engine.NewAnalyzer(settings, cfg.ParseTimeframes(), engine.Stores{
		Profiles:   store.Profiles,
		IV:         store.IV,
		Indicators: store.Indicators,
		Bars:       bars,
	})
	if err != nil {
		return err
	}
	router := engine.NewRouter(context.Background(), an, engine.Options{MailboxSize: cfg.MailboxSize})
	router.OnDrop = func(string) { prom.DroppedTicks.WithLabelValues("mailbox").Inc() }
	router.OnLateTick = func(string) { prom.DroppedTicks.WithLabelValues("late").Inc() }
	router.OnResultDrop = func(stream string) { prom.ResultDrops.WithLabelValues(stream).Inc() }
	router.OnPanic = func(string) { prom.WorkerPanics.Inc() }
	router.OnWorkers = func(n int) { prom.Workers.Set(float64(n)) }

	// ---- Sinks ----
	hub := gateway.NewHub(router, opts.replaySize)
	hub.OnSlowClient = prom.WSSlowClients.Inc

	notifier := notification.Multi{notification.NewLogNotifier()}
	if cfg.SignalLogDir != "" {
		fn, err := notification.NewFileNotifier(cfg.SignalLogDir)
		if err != nil {
			return err
		}
		notifier = append(notifier, fn)
	}
	if cfg.WebhookURL != "" {
		notifier = append(notifier, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier = append(notifier, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	alerter := notification.NewAlerter(notifier)
	alerter.OnAlert = func(signal string) { prom.SignalAlerts.WithLabelValues(signal).Inc() }

	var (
		redisWriter *redisstore.Writer
		buffered    *redisstore.BufferedWriter
		rdb         *goredis.Client
	)
	if cfg.RedisAddr != "" {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[serve] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			defer redisWriter.Close()
			rdb = redisWriter.Client()
			health.CheckRedis(ctx, rdb)

			cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
			cb.OnStateChange = func(from, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
			}
			buffered = redisstore.NewBufferedWriter(ctx, redisWriter, cb, 10000)
			buffered.OnBuffer = prom.RedisBufferedWrites.Inc
			buffered.OnFlush = func(n int) { log.Printf("[serve] replayed %d buffered redis writes", n) }
		}
	}

	// Sinks drain until the router closes its streams, so they get their
	// own lifetime instead of the signal context.
	drainCtx, drainCancel := context.WithCancel(context.Background())
	defer drainCancel()
	var sinks sync.WaitGroup
	goSink := func(fn func()) {
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			fn()
		}()
	}

	results := bus.New[model.AnalysisResult](4096)
	results.OnDrop = func(idx int) { prom.FanoutDropsTotal.WithLabelValues(results.Name(idx)).Inc() }
	candles := bus.New[agg.CandleUpdate](8192)
	candles.OnDrop = func(idx int) { prom.FanoutDropsTotal.WithLabelValues("candles_" + candles.Name(idx)).Inc() }

	resultSinks := map[string]model.ResultSink{"hub": hub, "alerts": alerter}
	if buffered != nil {
		resultSinks["redis"] = buffered
	}
	for name, sink := range resultSinks {
		in := results.SubscribeNamed(name)
		goSink(func() { sink.Run(drainCtx, in) })
	}
	hubCandles := candles.SubscribeNamed("hub")
	goSink(func() { hub.RunCandles(drainCtx, hubCandles) })
	if buffered != nil {
		redisCandles := candles.SubscribeNamed("redis")
		goSink(func() { buffered.RunCandles(drainCtx, redisCandles) })
	}
	countedResults := make(chan model.AnalysisResult, 1024)
	goSink(func() {
		defer close(countedResults)
		for r := range router.Results() {
			prom.ResultsTotal.Inc()
			countedResults <- r
		}
	})
	goSink(func() { results.Run(drainCtx, countedResults) })
	goSink(func() { candles.Run(drainCtx, router.Candles()) })

	// ---- Servers ----
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, reg)
	metricsSrv.Start()

	apiSrv := api.NewServer(api.Deps{
		Engine:   router,
		Profiles: store.Profiles,
		IV:       store.IV,
		Hub:      hub,
		Health:   health.Check,
	}).NewHTTPServer(cfg.APIAddr)

	// ---- Supervised producers ----
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("[serve] api listening on %s", cfg.APIAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return apiSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		health.RunLivenessChecker(gctx, rdb, store.DB.DB, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		runFlushLoop(gctx, router, prom, cfg.FlushInterval)
		return nil
	})

	tickCh := make(chan model.Tick, 10000)
	g.Go(func() error {
		pumpTicks(gctx, tickCh, byID, router, poller, prom, health)
		return nil
	})
	switch {
	case liveFeed:
		g.Go(func() error {
			runFeed(gctx, cfg, sc, settings.Instruments, poller, tickCh, prom, health)
			return nil
		})
	case feedEnabled:
		relay, err := wssim.New(wssim.Config{URL: opts.feedURL}, settings.Instruments)
		if err != nil {
			return err
		}
		relay.OnReconnect = prom.WSReconnects.Inc
		relay.OnConnected = func(v bool) {
			health.SetFeedConnected(v)
			if v {
				prom.FeedConnected.Set(1)
			} else {
				prom.FeedConnected.Set(0)
			}
		}
		relay.OnDrop = func() { prom.DroppedTicks.WithLabelValues("feed").Inc() }
		relay.OnInvalid = func() { prom.DroppedTicks.WithLabelValues("invalid").Inc() }
		g.Go(func() error {
			return relay.Start(gctx, tickCh)
		})
	}

	log.Printf("[serve] pipeline ready: %d instruments, timeframes %v, feed=%v redis=%v",
		len(settings.Instruments), an.Timeframes(), feedEnabled, buffered != nil)
	log.Printf("[serve] %s", markethours.StatusString(time.Now()))

	err = g.Wait()
	log.Println("[serve] shutdown signal received, cleaning up...")

	// ---- Shutdown: final flush, stop workers, drain sinks ----
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	start := time.Now()
	flushErr := router.Flush(shutdownCtx)
	prom.ObserveFlush(start, flushErr)
	if flushErr != nil {
		log.Printf("[serve] final flush: %v", flushErr)
	}
	router.Stop()
	if err := store.Flush(shutdownCtx); err != nil {
		log.Printf("[serve] store flush after stop: %v", err)
	}

	drained := make(chan struct{})
	go func() {
		sinks.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Println("[serve] sinks did not drain in time")
		drainCancel()
	}
	hub.Shutdown()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[serve] shutdown complete.")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// pumpTicks resolves each tick's instrument, attaches cached option IV and
// hands it to the router.
func pumpTicks(ctx context.Context, in <-chan model.Tick, byID map[string]model.Instrument,
	router *engine.Router, poller *greeks.Poller, prom *metrics.Metrics, health *metrics.HealthStatus) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-in:
			inst, ok := byID[t.SecurityID]
			if !ok {
				prom.DroppedTicks.WithLabelValues("unknown").Inc()
				continue
			}
			if poller != nil {
				poller.Enrich(inst, &t)
			}
			prom.TicksTotal.Inc()
			health.SetLastTickTime(t.TS)

			err := router.OnTick(inst, t)
			switch {
			case err == nil, errors.Is(err, engine.ErrMailboxFull):
				// mailbox drops are counted by the router hook
			case errors.Is(err, engine.ErrRouterStopped):
				return
			default:
				prom.DroppedTicks.WithLabelValues("refused").Inc()
				log.Printf("[serve] tick %s refused: %v", t.SecurityID, err)
			}
		}
	}
}

// runFlushLoop persists indicator snapshots and store deltas every interval.
func runFlushLoop(ctx context.Context, f model.Flusher, prom *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			err := f.Flush(ctx)
			prom.ObserveFlush(start, err)
			if err != nil && ctx.Err() == nil {
				log.Printf("[serve] flush: %v", err)
			}
		}
	}
}

// runFeed connects the SmartAPI feed for each market session: wait for the
// open, log in with a fresh TOTP, stream until the close, repeat.
func runFeed(ctx context.Context, cfg *config.Config, sc *smartconnect.SmartConnect, insts []model.Instrument,
	poller *greeks.Poller, tickCh chan<- model.Tick, prom *metrics.Metrics, health *metrics.HealthStatus) {
	setConnected := func(v bool) {
		health.SetFeedConnected(v)
		if v {
			prom.FeedConnected.Set(1)
		} else {
			prom.FeedConnected.Set(0)
		}
	}
	retry := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(30 * time.Second):
			return true
		}
	}

	for {
		// --- Wait for the pre-open login slot ---
		now := time.Now()
		if !markethours.IsMarketOpen(now) {
			setConnected(false)
			log.Printf("[feed] %s", markethours.StatusString(now))
			if login := markethours.NextLogin(now); login.After(now) {
				log.Printf("[feed] sleeping %v until login at %s",
					time.Until(login).Truncate(time.Second), login.In(markethours.IST).Format("Mon 15:04"))
				if !sleepUntil(ctx, login) {
					return
				}
			}
		}

		// --- Fresh login (new TOTP + session) ---
		sess, err := history.Login(ctx, sc, history.Credentials{
			ClientCode: cfg.AngelClientCode,
			Password:   cfg.AngelPassword,
			TOTPSecret: cfg.AngelTOTPSecret,
		}, time.Now())
		if err != nil {
			log.Printf("[feed] %v, retrying in 30s", err)
			if !retry() {
				return
			}
			continue
		}

		// --- Stream from the open until the close ---
		if open := markethours.NextOpen(time.Now()); !markethours.IsMarketOpen(time.Now()) {
			if !sleepUntil(ctx, open) {
				sc.TerminateSession(context.Background())
				return
			}
		}
		closeTime := markethours.TodayClose(time.Now())
		closer := closedetector.New(closeTime)
		sessCtx, sessCancel := context.WithDeadline(ctx, closer.Deadline())

		ingest, err := ws.New(ws.IngestConfig{
			AuthToken:   sess.JWTToken,
			APIKey:      cfg.AngelAPIKey,
			ClientCode:  sess.ClientCode,
			FeedToken:   sess.FeedToken,
			Instruments: insts,
		})
		if err != nil {
			sessCancel()
			log.Printf("[feed] ws init failed: %v, retrying in 30s", err)
			if !retry() {
				return
			}
			continue
		}
		ingest.Close = closer
		ingest.OnReconnect = prom.WSReconnects.Inc
		ingest.OnConnected = setConnected
		ingest.OnDrop = func() { prom.DroppedTicks.WithLabelValues("feed").Inc() }

		if poller != nil {
			go poller.Run(sessCtx)
		}
		log.Printf("[feed] session %s: streaming until close %s (hard stop %s)",
			logger.NewCorrelationID(), closeTime.In(markethours.IST).Format("15:04:05"),
			closer.Deadline().In(markethours.IST).Format("15:04:05"))

		if err := ingest.Start(sessCtx, tickCh); err != nil {
			log.Printf("[feed] session ended: %v", err)
		}
		sessCancel()
		setConnected(false)
		if err := sc.TerminateSession(context.Background()); err != nil {
			log.Printf("[feed] logout: %v", err)
		}

		if ctx.Err() != nil {
			return
		}
		// The feed gave up before the close: back off before logging in again.
		if time.Now().Before(closeTime) && !retry() {
			return
		}
	}
}

// sleepUntil blocks until t or ctx cancellation; false means cancelled.
func sleepUntil(ctx context.Context, t time.Time) bool {
	timer := time.NewTimer(time.Until(t))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var _ model.Flusher = (*engine.Router)(nil)
