package models

import (
	"github.com/samber/lo"
	"time"
)

// StatusOpenForProposals is the only upstream project status eligible for notification.
const StatusOpenForProposals = 11

type Skill struct {
	ID   int
	Name string
}

type Budget struct {
	Amount   float64
	Currency string
}

type Project struct {
	ID            int64
	Name          string
	Description   string
	URL           string
	StatusID      int
	StatusName    string
	EmployerID    int
	EmployerLogin string
	EmployerName  string
	Skills        []Skill
	OnlyForPlus   bool
	Budget        *Budget
	PublishedAt   time.Time
}

func (p Project) IsOpen() bool {
	return p.StatusID == StatusOpenForProposals
}

func (p Project) SkillIDs() []int {
	return lo.Map(p.Skills, func(s Skill, _ int) int { return s.ID })
}
