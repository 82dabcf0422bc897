package freelancehunt

import (
	"encoding/json"
	"strconv"
	"time"
)

type Project struct {
	ID         int64             `json:"id"`
	Attributes ProjectAttributes `json:"attributes"`
	Links      ProjectLinks      `json:"links"`
}

type ProjectAttributes struct {
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	DescriptionHTML string     `json:"description_html"`
	Skills          []Skill    `json:"skills"`
	Status          Status     `json:"status"`
	Budget          *Budget    `json:"budget"`
	Employer        *Employer  `json:"employer"`
	OnlyForPlus     bool       `json:"only_for_plus"`
	PublishedAt     *time.Time `json:"published_at"`
}

type ProjectLinks struct {
	Self struct {
		API string `json:"api"`
		Web string `json:"web"`
	} `json:"self"`
}

type Skill struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Status struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Budget struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type Employer struct {
	ID        int    `json:"id"`
	Login     string `json:"login"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type responseMeta struct {
	RateLimit    *rateLimitMeta `json:"ratelimit"`
	RateLimitAlt *rateLimitMeta `json:"rate_limit"`
}

type rateLimitMeta struct {
	Limit     *flexInt `json:"limit"`
	Remaining *flexInt `json:"remaining"`
}

// flexInt accepts both 30 and "30".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var number int
	if err := json.Unmarshal(b, &number); err == nil {
		*f = flexInt(number)
		return nil
	}

	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	number, err := strconv.Atoi(str)
	if err != nil {
		return err
	}
	*f = flexInt(number)
	return nil
}
