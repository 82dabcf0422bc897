package bot

import (
	"fmt"
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	gocache "github.com/patrickmn/go-cache"
	"strconv"
	"time"
)

type validation struct {
	function     func(input string) bool
	errorMessage string
}

// prompt is a question the bot asked and whose answer is expected as the next plain text message.
type prompt struct {
	Key         string
	validations []validation
}

func (p prompt) Validate(input string) (string, bool) {
	for _, _validation := range p.validations {
		if !_validation.function(input) {
			return _validation.errorMessage, false
		}
	}
	return "", true
}

const (
	promptInterval = "interval"
	promptSkills   = models.FilterKeySkillID
	promptEmployer = models.FilterKeyEmployerID
)

func isPositiveInt(input string) bool {
	value, err := strconv.Atoi(input)
	return err == nil && value > 0
}

func isSkillList(input string) bool {
	_, err := models.ParseSkillIDs(input)
	return err == nil
}

var prompts = map[string]prompt{
	promptInterval: {
		Key: promptInterval,
		validations: []validation{{isPositiveInt, "❌ Помилка! Вкажіть число в секундах, наприклад: 120"}},
	},
	promptSkills: {
		Key: promptSkills,
		validations: []validation{{isSkillList, "❌ Вкажіть ID навичок через кому, наприклад: 69,99"}},
	},
	promptEmployer: {
		Key: promptEmployer,
		validations: []validation{{isPositiveInt, "❌ Вкажіть ID роботодавця числом, наприклад: 123"}},
	},
}

// pendingPrompts remembers per chat which prompt is awaiting an answer. Unanswered prompts expire.
type pendingPrompts struct {
	cache *gocache.Cache
}

func newPendingPrompts(ttl time.Duration) *pendingPrompts {
	return &pendingPrompts{cache: gocache.New(ttl, 2*ttl)}
}

func (p *pendingPrompts) Ask(chatID int64, key string) {
	p.cache.SetDefault(chatKey(chatID), key)
}

// Take returns and forgets the prompt awaiting an answer in the chat.
func (p *pendingPrompts) Take(chatID int64) (prompt, bool) {
	value, found := p.cache.Get(chatKey(chatID))
	if !found {
		return prompt{}, false
	}
	p.cache.Delete(chatKey(chatID))

	result, ok := prompts[value.(string)]
	return result, ok
}

func (p *pendingPrompts) Cancel(chatID int64) {
	p.cache.Delete(chatKey(chatID))
}

func chatKey(chatID int64) string {
	return fmt.Sprint(chatID)
}
