package models

import (
	"fmt"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"slices"
	"strconv"
	"strings"
)

var (
	ErrUnknownFilterKey   = errors.New("unknown filter key")
	ErrInvalidFilterValue = errors.New("invalid filter value")
)

const (
	FilterKeySkillID     = "skill_id"
	FilterKeyEmployerID  = "employer_id"
	FilterKeyOnlyForPlus = "only_for_plus"
)

// FilterSpec narrows the projects a subscriber is notified about. Zero value matches everything.
type FilterSpec struct {
	SkillIDs    []int `json:"skill_ids,omitempty"`
	EmployerID  *int  `json:"employer_id,omitempty"`
	OnlyForPlus bool  `json:"only_for_plus,omitempty"`
}

// ParseFilterSpec builds a spec from key/value pairs, rejecting keys it does not know.
func ParseFilterSpec(values map[string]string) (FilterSpec, error) {
	var spec FilterSpec

	keys := lo.Keys(values)
	slices.Sort(keys)

	for _, key := range keys {
		value := strings.TrimSpace(values[key])
		switch key {
		case FilterKeySkillID:
			skills, err := ParseSkillIDs(value)
			if err != nil {
				return FilterSpec{}, err
			}
			spec.SkillIDs = skills
		case FilterKeyEmployerID:
			id, err := strconv.Atoi(value)
			if err != nil || id <= 0 {
				return FilterSpec{}, errors.Wrapf(ErrInvalidFilterValue, "%s=%q", key, value)
			}
			spec.EmployerID = &id
		case FilterKeyOnlyForPlus:
			switch value {
			case "1", "true":
				spec.OnlyForPlus = true
			case "0", "false", "":
				spec.OnlyForPlus = false
			default:
				return FilterSpec{}, errors.Wrapf(ErrInvalidFilterValue, "%s=%q", key, value)
			}
		default:
			return FilterSpec{}, errors.Wrapf(ErrUnknownFilterKey, "%q", key)
		}
	}

	return spec, nil
}

// ParseSkillIDs parses a comma separated list like "22, 7,22" into sorted unique ids.
func ParseSkillIDs(value string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id <= 0 {
			return nil, errors.Wrapf(ErrInvalidFilterValue, "skill id %q", part)
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil, errors.Wrap(ErrInvalidFilterValue, "empty skill list")
	}

	ids = lo.Uniq(ids)
	slices.Sort(ids)
	return ids, nil
}

// With returns a copy of f where the predicate named by key is replaced by the parsed value.
func (f FilterSpec) With(key, value string) (FilterSpec, error) {
	parsed, err := ParseFilterSpec(map[string]string{key: value})
	if err != nil {
		return f, err
	}

	result := f.Clone()
	switch key {
	case FilterKeySkillID:
		result.SkillIDs = parsed.SkillIDs
	case FilterKeyEmployerID:
		result.EmployerID = parsed.EmployerID
	case FilterKeyOnlyForPlus:
		result.OnlyForPlus = parsed.OnlyForPlus
	}
	return result, nil
}

func (f FilterSpec) IsEmpty() bool {
	return len(f.SkillIDs) == 0 && f.EmployerID == nil && !f.OnlyForPlus
}

func (f FilterSpec) Clone() FilterSpec {
	clone := FilterSpec{OnlyForPlus: f.OnlyForPlus}
	if f.SkillIDs != nil {
		clone.SkillIDs = slices.Clone(f.SkillIDs)
	}
	if f.EmployerID != nil {
		id := *f.EmployerID
		clone.EmployerID = &id
	}
	return clone
}

func (f FilterSpec) Description() string {
	if f.IsEmpty() {
		return "без фільтрів (усі проекти)"
	}

	var descriptions []string
	if len(f.SkillIDs) > 0 {
		skills := lo.Map(f.SkillIDs, func(id int, _ int) string { return strconv.Itoa(id) })
		descriptions = append(descriptions, fmt.Sprintf("навички [%s]", strings.Join(skills, ",")))
	}
	if f.EmployerID != nil {
		descriptions = append(descriptions, fmt.Sprintf("роботодавець #%d", *f.EmployerID))
	}
	if f.OnlyForPlus {
		descriptions = append(descriptions, "тільки для Plus-профілів")
	}
	return strings.Join(descriptions, ", ")
}
