package main

import (
	"context"
	"github.com/asaskevich/EventBus"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/maxaizer/fh-notifier/internal/bot"
	"github.com/maxaizer/fh-notifier/internal/clients/freelancehunt"
	"github.com/maxaizer/fh-notifier/internal/config"
	"github.com/maxaizer/fh-notifier/internal/logger"
	"github.com/maxaizer/fh-notifier/internal/metrics"
	"github.com/maxaizer/fh-notifier/internal/ratelimit"
	"github.com/maxaizer/fh-notifier/internal/repositories"
	"github.com/maxaizer/fh-notifier/internal/services"
	log "github.com/sirupsen/logrus"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const rateLimitStateKey = "rate_limit_state"

func newTracker(ctx context.Context, cfg *config.Config, data repositories.DataStore) *ratelimit.Tracker {

	tracker := ratelimit.NewTracker(ratelimit.Config{
		MinRequestInterval: cfg.API.MinRequestInterval,
		WarningThreshold:   cfg.API.RateLimitWarningThreshold,
		CriticalThreshold:  cfg.API.RateLimitCriticalThreshold,
		Window:             cfg.API.RateLimitWindow,
	})

	var state ratelimit.State
	found, err := repositories.LoadJSON(ctx, data, rateLimitStateKey, &state)
	if err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeDb).
			Errorf("can't restore rate limit state: %v", err)
	} else if found {
		tracker.Restore(state)
		log.Infof("restored rate limit state: %s", tracker.Status())
	}
	return tracker
}

func saveTracker(tracker *ratelimit.Tracker, data repositories.DataStore) {

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := repositories.SaveJSON(ctx, data, rateLimitStateKey, tracker.Snapshot()); err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeDb).
			Errorf("can't save rate limit state: %v", err)
	}
}

func newFetcher(cfg *config.Config, tracker *ratelimit.Tracker) *services.ProjectFetcher {

	client := freelancehunt.NewClient(cfg.API.Token, cfg.API.RequestTimeout)
	client.SetBaseURL(cfg.API.BaseURL)

	return services.NewProjectFetcher(client, tracker)
}

func newNotifier(cfg *config.Config, registry *services.SubscriberRegistry, fetcher *services.ProjectFetcher,
	tracker *ratelimit.Tracker, deliverer *bot.Deliverer) *services.ProjectsNotifier {

	return services.NewProjectsNotifier(registry, fetcher, tracker, deliverer, services.NotifierConfig{
		IdleInterval:      cfg.Polling.IdleInterval,
		FanOutThreshold:   cfg.Polling.FanOutThreshold,
		FanOutFloor:       cfg.Polling.FanOutFloor,
		WarningThreshold:  cfg.API.RateLimitWarningThreshold,
		CriticalThreshold: cfg.API.RateLimitCriticalThreshold,
		WarningFloor:      cfg.Polling.WarningFloor,
		CriticalFloor:     cfg.Polling.CriticalFloor,
		HistoryMaxSize:    cfg.Polling.HistoryMaxSize,
		HistoryKeepSize:   cfg.Polling.HistoryKeepSize,
	})
}

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Get()

	logger.Setup(cfg.Logger)
	defer logger.Cleanup()

	metrics.StartMetricsServer(cfg.Metrics.Address)

	storage, err := repositories.OpenStorage(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("can't open storage: %v", err)
	}
	defer storage.Close()

	bus := EventBus.New()

	tracker := newTracker(ctx, cfg, storage.Data)
	defer saveTracker(tracker, storage.Data)

	intervals := services.IntervalConfig{
		Default: cfg.Polling.DefaultCheckInterval,
		Min:     cfg.Polling.MinCheckInterval,
		Max:     cfg.Polling.MaxCheckInterval,
	}

	registry, err := services.NewSubscriberRegistry(bus, storage.Subscribers, intervals)
	if err != nil {
		log.Fatalf("can't create subscriber registry: %v", err)
	}
	if err = registry.Load(ctx); err != nil {
		log.Fatalf("can't load subscribers: %v", err)
	}

	reconciler, err := services.NewRegistryReconciler(registry, cfg.Polling.ReconcileSchedule)
	if err != nil {
		log.Fatalf("can't create registry reconciler: %v", err)
	}
	defer reconciler.Stop()

	api, err := bot.NewBotAPI(cfg.Bot.Token, time.Duration(cfg.Bot.SendTimeout)*time.Second)
	if err != nil {
		log.Fatalf("can't connect to telegram: %v", err)
	}

	tgbot, err := bot.NewBot(api, registry, tracker, intervals, cfg.Bot.UpdatesTimeoutSeconds)
	if err != nil {
		log.Fatalf("can't create bot: %v", err)
	}
	fetcher := newFetcher(cfg, tracker)
	tgbot.SetProjectSource(fetcher)

	deliverer := bot.NewDeliverer(api, bus, cfg.Bot.MaxMessagesPerSecond)
	notifier := newNotifier(cfg, registry, fetcher, tracker, deliverer)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		tgbot.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		notifier.Run(ctx)
	}()

	if _, err = daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warnf("can't notify systemd: %v", err)
	}
	log.Infof("notifier started with %d active subscribers", registry.ActiveCount())

	<-ctx.Done()

	log.Info("Shutting down services...")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	wg.Wait()

	flushed := registry.ReconcileDirty(context.Background())
	log.Infof("Services stopped, %d pending subscribers flushed.", flushed)
}
