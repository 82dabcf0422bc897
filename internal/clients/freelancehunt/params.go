package freelancehunt

import (
	"github.com/samber/lo"
	"net/url"
	"strconv"
	"strings"
)

// ProjectParameters holds the listing filters the API supports. Anything not listed here
// is never sent, which keeps the client stable against upstream filter changes.
type ProjectParameters struct {
	SkillIDs    []int
	EmployerID  int
	OnlyForPlus bool
}

func (p ProjectParameters) ToUrlParams() url.Values {

	params := url.Values{}

	if len(p.SkillIDs) > 0 {
		skills := lo.Map(p.SkillIDs, func(id int, _ int) string { return strconv.Itoa(id) })
		params.Add("filter[skill_id]", strings.Join(skills, ","))
	}

	if p.EmployerID > 0 {
		params.Add("filter[employer_id]", strconv.Itoa(p.EmployerID))
	}

	if p.OnlyForPlus {
		params.Add("filter[only_for_plus]", "1")
	}

	return params
}
