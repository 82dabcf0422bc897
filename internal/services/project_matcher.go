package services

import (
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"github.com/samber/lo"
)

// shouldProcess applies the subscriber's filter client side, the api filters are not trusted.
func shouldProcess(project models.Project, filter models.FilterSpec) bool {

	// without an id the project can't be deduplicated
	if project.ID == 0 {
		return false
	}

	if !project.IsOpen() {
		return false
	}

	if filter.EmployerID != nil && project.EmployerID != *filter.EmployerID {
		return false
	}

	if filter.OnlyForPlus && !project.OnlyForPlus {
		return false
	}

	if len(filter.SkillIDs) > 0 && len(lo.Intersect(project.SkillIDs(), filter.SkillIDs)) == 0 {
		return false
	}

	return true
}
