package services

import (
	"context"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

type dirtyReconciler interface {
	ReconcileDirty(ctx context.Context) int
	DirtyCount() int
}

// RegistryReconciler periodically retries persisting subscribers whose writes failed.
type RegistryReconciler struct {
	registry dirtyReconciler
	cron     *cron.Cron
}

func NewRegistryReconciler(registry dirtyReconciler, schedule string) (*RegistryReconciler, error) {

	if schedule == "" {
		return nil, errors.New("reconcile schedule must not be empty")
	}

	rr := &RegistryReconciler{
		registry: registry,
		cron:     cron.New(),
	}

	_, err := rr.cron.AddFunc(schedule, rr.reconcile)
	if err != nil {
		return nil, err
	}

	rr.cron.Start()
	log.Infof("registry reconciler started, schedule: %s", schedule)
	return rr, nil
}

func (rr *RegistryReconciler) Stop() {
	<-rr.cron.Stop().Done()
}

func (rr *RegistryReconciler) reconcile() {
	pending := rr.registry.DirtyCount()
	if pending == 0 {
		return
	}

	reconciled := rr.registry.ReconcileDirty(context.Background())
	if reconciled < pending {
		log.Warnf("reconciled %d of %d unsaved subscribers", reconciled, pending)
	} else {
		log.Infof("reconciled %d unsaved subscribers", reconciled)
	}
}
