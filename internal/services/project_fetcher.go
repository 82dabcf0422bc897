package services

import (
	"context"
	"errors"
	"github.com/maxaizer/fh-notifier/internal/clients/freelancehunt"
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"github.com/maxaizer/fh-notifier/internal/logger"
	"github.com/maxaizer/fh-notifier/internal/metrics"
	"github.com/maxaizer/fh-notifier/internal/ratelimit"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"time"
)

type projectsClient interface {
	GetProjects(ctx context.Context, parameters freelancehunt.ProjectParameters) (*freelancehunt.ProjectsResponse, error)
}

// ProjectFetcher performs budget-aware project listing requests. It never returns an error:
// every failure is logged and results in an empty list.
type ProjectFetcher struct {
	client  projectsClient
	tracker *ratelimit.Tracker
	wait    func(ctx context.Context, d time.Duration) bool
}

func NewProjectFetcher(client projectsClient, tracker *ratelimit.Tracker) *ProjectFetcher {
	return &ProjectFetcher{client: client, tracker: tracker, wait: sleepContext}
}

func (f *ProjectFetcher) FetchProjects(ctx context.Context, filter models.FilterSpec) []models.Project {

	defer f.updateRemainingGauge()

	if f.tracker.ShouldSkip() {
		log.Warnf("rate limit is almost exhausted (%s), skipping request", f.tracker.Status())
		metrics.UpstreamRequestsCounter.WithLabelValues(metrics.RequestOutcomeSkipped).Inc()
		return nil
	}

	if wait := f.tracker.WaitDuration(); wait > 0 {
		log.Debugf("waiting %v before the next api request", wait)
		if !f.wait(ctx, wait) {
			log.Info("shutdown requested while waiting for the api budget")
			return nil
		}
	}

	f.tracker.MarkRequest()
	response, err := f.client.GetProjects(context.WithoutCancel(ctx), paramsFromFilter(filter))

	if errors.Is(err, freelancehunt.ErrRateLimited) {
		f.tracker.MarkExhausted()
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeFhApi).Warn("freelancehunt api rate limit exceeded")
		metrics.UpstreamRequestsCounter.WithLabelValues(metrics.RequestOutcomeRateLimited).Inc()
		return nil
	}
	if err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeFhApi).Errorf("failed to get projects: %v", err)
		metrics.UpstreamRequestsCounter.WithLabelValues(metrics.RequestOutcomeError).Inc()
		return nil
	}

	f.tracker.Observe(response.RateLimit)
	f.tracker.ObserveSuccess()
	metrics.UpstreamRequestsCounter.WithLabelValues(metrics.RequestOutcomeSuccess).Inc()

	return lo.Map(response.Projects, func(project freelancehunt.Project, _ int) models.Project {
		return toProjectModel(project)
	})
}

func (f *ProjectFetcher) updateRemainingGauge() {
	if remaining, ok := f.tracker.Remaining(); ok {
		metrics.RateLimitRemaining.Set(float64(remaining))
	} else {
		metrics.RateLimitRemaining.Set(-1)
	}
}

func paramsFromFilter(filter models.FilterSpec) freelancehunt.ProjectParameters {
	params := freelancehunt.ProjectParameters{
		SkillIDs:    filter.SkillIDs,
		OnlyForPlus: filter.OnlyForPlus,
	}
	if filter.EmployerID != nil {
		params.EmployerID = *filter.EmployerID
	}
	return params
}

func toProjectModel(project freelancehunt.Project) models.Project {
	attributes := project.Attributes

	result := models.Project{
		ID:          project.ID,
		Name:        attributes.Name,
		Description: attributes.Description,
		URL:         project.Links.Self.Web,
		StatusID:    attributes.Status.ID,
		StatusName:  attributes.Status.Name,
		OnlyForPlus: attributes.OnlyForPlus,
		Skills: lo.Map(attributes.Skills, func(skill freelancehunt.Skill, _ int) models.Skill {
			return models.Skill{ID: skill.ID, Name: skill.Name}
		}),
	}

	if employer := attributes.Employer; employer != nil {
		result.EmployerID = employer.ID
		result.EmployerLogin = employer.Login
		result.EmployerName = employer.FirstName
		if employer.LastName != "" {
			result.EmployerName += " " + employer.LastName
		}
	}
	if budget := attributes.Budget; budget != nil {
		result.Budget = &models.Budget{Amount: budget.Amount, Currency: budget.Currency}
	}
	if attributes.PublishedAt != nil {
		result.PublishedAt = *attributes.PublishedAt
	}

	return result
}

// sleepContext waits for d and reports false if ctx was cancelled first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
