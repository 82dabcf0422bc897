package services

import (
	"context"
	"github.com/google/uuid"
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"github.com/maxaizer/fh-notifier/internal/logger"
	"github.com/maxaizer/fh-notifier/internal/metrics"
	log "github.com/sirupsen/logrus"
	"sync/atomic"
	"time"
)

// Deliverer sends a single project to a subscriber. Message formatting belongs to the implementation.
type Deliverer interface {
	Deliver(ctx context.Context, subscriberID int64, project models.Project) error
}

type projectSource interface {
	FetchProjects(ctx context.Context, filter models.FilterSpec) []models.Project
}

type remainingBudget interface {
	Remaining() (int, bool)
}

type NotifierState int32

const (
	StateIdle NotifierState = iota
	StatePolling
	StateStopped
)

func (s NotifierState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type NotifierConfig struct {
	IdleInterval      time.Duration
	FanOutThreshold   int
	FanOutFloor       int
	WarningThreshold  int
	CriticalThreshold int
	WarningFloor      int
	CriticalFloor     int
	HistoryMaxSize    int
	HistoryKeepSize   int
}

type ProjectsNotifier struct {
	registry  *SubscriberRegistry
	fetcher   projectSource
	budget    remainingBudget
	deliverer Deliverer
	cfg       NotifierConfig
	state     atomic.Int32
	sleep     func(ctx context.Context, d time.Duration) bool
}

func NewProjectsNotifier(registry *SubscriberRegistry, fetcher projectSource, budget remainingBudget,
	deliverer Deliverer, cfg NotifierConfig) *ProjectsNotifier {

	return &ProjectsNotifier{
		registry:  registry,
		fetcher:   fetcher,
		budget:    budget,
		deliverer: deliverer,
		cfg:       cfg,
		sleep:     sleepContext,
	}
}

func (n *ProjectsNotifier) State() NotifierState {
	return NotifierState(n.state.Load())
}

// Run polls until ctx is cancelled. Each iteration sleeps first, then runs one cycle.
func (n *ProjectsNotifier) Run(ctx context.Context) {

	log.Info("project notifier started")
	defer func() {
		n.state.Store(int32(StateStopped))
		log.Info("project notifier stopped")
	}()

	for {
		sleep := n.calculateSleep()
		metrics.SleepDuration.Set(sleep.Seconds())
		log.Debugf("next check in %v", sleep)

		if !n.sleep(ctx, sleep) {
			return
		}

		n.RunCycle(ctx)
	}
}

// RunCycle checks projects for every active subscriber once.
func (n *ProjectsNotifier) RunCycle(ctx context.Context) {

	cycleLog := log.WithField("cycle_id", uuid.NewString())
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			cycleLog.WithField(logger.ErrorTypeField, logger.ErrorTypeInternal).Errorf("polling cycle panicked: %v", r)
		}
		if n.State() != StateStopped {
			n.state.Store(int32(StateIdle))
		}
	}()

	subscribers := n.registry.ActiveSubscribers()
	metrics.ActiveSubscribers.Set(float64(len(subscribers)))
	if len(subscribers) == 0 {
		n.state.Store(int32(StateIdle))
		return
	}

	n.state.Store(int32(StatePolling))
	cycleLog.Infof("checking projects for %d subscribers", len(subscribers))

	delivered := 0
	for _, subscriber := range subscribers {
		if ctx.Err() != nil {
			cycleLog.Info("shutdown requested, cycle interrupted")
			return
		}
		delivered += n.processSubscriber(ctx, cycleLog, subscriber)
	}

	n.registry.PruneDeliveredHistory(context.WithoutCancel(ctx), n.cfg.HistoryMaxSize, n.cfg.HistoryKeepSize)

	executionTime := time.Since(startTime)
	metrics.CycleDuration.Observe(executionTime.Seconds())
	cycleLog.Infof("cycle ended after %v, delivered %d projects", executionTime, delivered)
}

func (n *ProjectsNotifier) processSubscriber(ctx context.Context, cycleLog *log.Entry, subscriber models.Subscriber) (delivered int) {

	subscriberLog := cycleLog.WithField("subscriber_id", subscriber.ID)

	defer func() {
		if r := recover(); r != nil {
			subscriberLog.WithField(logger.ErrorTypeField, logger.ErrorTypeInternal).
				Errorf("failed to process subscriber: %v", r)
		}
	}()

	projects := n.fetcher.FetchProjects(ctx, subscriber.Filter)
	deliveryCtx := context.WithoutCancel(ctx)

	for i := len(projects) - 1; i >= 0; i-- {
		project := projects[i]

		if !shouldProcess(project, subscriber.Filter) {
			metrics.FilteredProjectsCounter.Inc()
			continue
		}
		if n.registry.HasBeenDelivered(subscriber.ID, project.ID) {
			continue
		}

		n.registry.MarkDelivered(deliveryCtx, subscriber.ID, project.ID)

		if err := n.deliverer.Deliver(deliveryCtx, subscriber.ID, project); err != nil {
			subscriberLog.WithField(logger.ErrorTypeField, logger.ErrorTypeTgApi).
				Errorf("failed to deliver project %d: %v", project.ID, err)
			metrics.DeliveredProjectsCounter.WithLabelValues("failed").Inc()
			continue
		}
		metrics.DeliveredProjectsCounter.WithLabelValues("sent").Inc()
		delivered++
	}

	subscriberLog.Debugf("fetched %d projects, delivered %d", len(projects), delivered)
	return delivered
}

func (n *ProjectsNotifier) calculateSleep() time.Duration {

	active := n.registry.ActiveCount()
	if active == 0 {
		return n.cfg.IdleInterval
	}

	seconds := n.registry.MinActiveInterval()
	if active > n.cfg.FanOutThreshold {
		seconds = max(seconds, n.cfg.FanOutFloor)
	}

	if remaining, ok := n.budget.Remaining(); ok {
		switch {
		case remaining < n.cfg.CriticalThreshold:
			seconds = max(seconds, n.cfg.CriticalFloor)
		case remaining < n.cfg.WarningThreshold:
			seconds = max(seconds, n.cfg.WarningFloor)
		}
	}

	return time.Duration(seconds) * time.Second
}
