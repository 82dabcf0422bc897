package bot

import (
	"context"
	"errors"
	"fmt"
	botApi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"github.com/maxaizer/fh-notifier/internal/logger"
	"github.com/maxaizer/fh-notifier/internal/services"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type subscriberService interface {
	Activate(ctx context.Context, id int64, profile models.Profile) models.Subscriber
	Deactivate(ctx context.Context, id int64) bool
	SetInterval(ctx context.Context, id int64, seconds int) int
	SetFilter(ctx context.Context, id int64, filter models.FilterSpec) bool
	ClearFilter(ctx context.Context, id int64) bool
	Get(id int64) (models.Subscriber, bool)
	IsActive(id int64) bool
	HasBeenDelivered(id int64, projectID int64) bool
	FilterDescription(id int64) string
	Stats(now time.Time) models.Stats
}

type budgetStatus interface {
	Status() string
}

type projectLister interface {
	FetchProjects(ctx context.Context, filter models.FilterSpec) []models.Project
}

type Bot struct {
	api            botAPI
	subscribers    subscriberService
	budget         budgetStatus
	projects       projectLister
	intervals      services.IntervalConfig
	prompts        *pendingPrompts
	updatesTimeout int
	now            func() time.Time
}

// NewBotAPI authorizes the token and routes the library logs through logrus.
func NewBotAPI(token string, sendTimeout time.Duration) (*botApi.BotAPI, error) {

	api, err := botApi.NewBotAPIWithClient(token, botApi.APIEndpoint, &http.Client{Timeout: sendTimeout})
	if err != nil {
		return nil, err
	}
	log.Infof("Authorized on account %s", api.Self.UserName)

	if err = botApi.SetLogger(log.StandardLogger()); err != nil {
		return nil, err
	}
	return api, nil
}

func NewBot(api botAPI, subscribers subscriberService, budget budgetStatus, intervals services.IntervalConfig,
	updatesTimeout int) (*Bot, error) {

	if api == nil {
		return nil, errors.New("api is nil")
	}

	if subscribers == nil {
		return nil, errors.New("subscriber service is nil")
	}

	if budget == nil {
		return nil, errors.New("budget status is nil")
	}

	return &Bot{
		api:            api,
		subscribers:    subscribers,
		budget:         budget,
		intervals:      intervals,
		prompts:        newPendingPrompts(10 * time.Minute),
		updatesTimeout: updatesTimeout,
		now:            time.Now,
	}, nil
}

// SetProjectSource enables /debug_sent. Its requests share the notifier's api budget.
func (b *Bot) SetProjectSource(projects projectLister) {
	b.projects = projects
}

// Run handles updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {

	updateConfig := botApi.NewUpdate(0)
	updateConfig.Timeout = b.updatesTimeout

	updates := b.api.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Info("telegram updates stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update botApi.Update) {

	defer func() {
		if r := recover(); r != nil {
			log.WithField(logger.ErrorTypeField, logger.ErrorTypeInternal).Errorf("failed to handle update %d: %v", update.UpdateID, r)
		}
	}()

	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}

	message := update.Message
	if message == nil || message.From == nil {
		return
	}

	if message.Chat.IsGroup() || message.Chat.IsSuperGroup() {
		return
	}

	if cmd := message.Command(); cmd != "" {
		b.handleCommand(ctx, message.From, message.Chat, cmd, strings.TrimSpace(message.CommandArguments()))
	} else {
		b.handleInput(ctx, message.Chat, strings.TrimSpace(message.Text))
	}
}

func (b *Bot) handleCommand(ctx context.Context, user *botApi.User, chat *botApi.Chat, command string, args string) {

	var response botApi.Chattable

	if command != intervalCommandName {
		b.prompts.Cancel(chat.ID)
	}

	switch command {
	case startCommandName:
		response = b.start(ctx, user, chat.ID)
	case stopCommandName:
		if b.subscribers.Deactivate(ctx, chat.ID) {
			response = htmlMessage(chat.ID, "❌ Сповіщення про нові проекти зупинено.")
		} else {
			response = htmlMessage(chat.ID, "Сповіщення вже зупинено.")
		}
	case intervalCommandName:
		response = b.interval(ctx, chat.ID, args)
	case filterCommandName:
		response = b.filter(ctx, chat.ID, args)
	case skillIDCommandName, employerIDCommandName:
		response = b.setFilterValue(ctx, chat.ID, command, args)
	case statusCommandName:
		response = b.status(user, chat.ID)
	case debugSentCommandName:
		response = b.debugSent(ctx, chat.ID)
	case helpCommandName:
		response = htmlMessage(chat.ID, helpText)
	default:
		response = htmlMessage(chat.ID, "Невідома команда!\n\n"+helpText)
	}

	if response == nil {
		return
	}

	_, _ = sendWithLogError(b.api, response)
}

func (b *Bot) handleInput(ctx context.Context, chat *botApi.Chat, input string) {

	pending, ok := b.prompts.Take(chat.ID)
	if !ok {
		_, _ = sendWithLogError(b.api, htmlMessage(chat.ID, "Очікується команда.\n\n"+helpText))
		return
	}

	if errorMessage, valid := pending.Validate(input); !valid {
		b.prompts.Ask(chat.ID, pending.Key)
		_, _ = sendWithLogError(b.api, htmlMessage(chat.ID, errorMessage))
		return
	}

	var response botApi.Chattable
	switch pending.Key {
	case promptInterval:
		response = b.interval(ctx, chat.ID, input)
	case promptSkills, promptEmployer:
		response = b.setFilterValue(ctx, chat.ID, pending.Key, input)
	default:
		return
	}

	_, _ = sendWithLogError(b.api, response)
}

func (b *Bot) handleCallback(ctx context.Context, query *botApi.CallbackQuery) {

	if query.Message == nil {
		return
	}
	chatID := query.Message.Chat.ID
	parts := strings.Split(query.Data, ":")

	var text string
	switch {
	case len(parts) < 2:
		text = "Помилка у форматі фільтра"
	case !b.isKnown(chatID):
		text = notStartedText
	case parts[0] == "filter" && parts[1] == "clear":
		b.subscribers.ClearFilter(ctx, chatID)
		text = "✅ Фільтри скинуто. Будуть показані всі проекти."
	case parts[0] == "filter":
		value := ""
		if len(parts) > 2 {
			value = parts[2]
		}
		text = b.applyFilterValue(ctx, chatID, parts[1], value)
	case parts[0] == "input" && (parts[1] == promptSkills || parts[1] == promptEmployer):
		b.prompts.Ask(chatID, parts[1])
		text = fmt.Sprintf("Введіть значення для фільтра %s.\n\n"+
			"Приклади:\n- Для skill_id: 69,99 (через кому)\n- Для employer_id: 123", parts[1])
	default:
		text = "Помилка у форматі фільтра"
	}

	edit := botApi.NewEditMessageText(chatID, query.Message.MessageID, text)
	edit.ParseMode = botApi.ModeHTML
	_, _ = sendWithLogError(b.api, edit)

	if _, err := b.api.Request(botApi.NewCallback(query.ID, "")); err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeTgApi).Errorf("failed to answer callback: %v", err)
	}
}

func (b *Bot) start(ctx context.Context, user *botApi.User, chatID int64) botApi.Chattable {

	subscriber := b.subscribers.Activate(ctx, chatID, models.Profile{
		Username:  user.UserName,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})

	return htmlMessage(chatID, fmt.Sprintf("✅ Сповіщення про нові проекти активовано!\n\n"+
		"Інтервал перевірки: %d секунд\n"+
		"Фільтр: %s\n\n%s",
		subscriber.Interval, html.EscapeString(subscriber.Filter.Description()), helpText))
}

func (b *Bot) interval(ctx context.Context, chatID int64, args string) botApi.Chattable {

	subscriber, ok := b.subscribers.Get(chatID)
	if !ok {
		return htmlMessage(chatID, notStartedText)
	}

	if args == "" {
		b.prompts.Ask(chatID, promptInterval)
		return htmlMessage(chatID, fmt.Sprintf("Поточний інтервал перевірки: %d секунд\n"+
			"Надішліть нове значення в секундах або використовуйте команду /interval &lt;секунди&gt;\n"+
			"Мінімальний інтервал: %d секунд\n"+
			"Максимальний інтервал: %d секунд",
			subscriber.Interval, b.intervals.Min, b.intervals.Max))
	}

	b.prompts.Cancel(chatID)
	requested, err := strconv.Atoi(args)
	if err != nil {
		return htmlMessage(chatID, "❌ Помилка! Вкажіть число в секундах, наприклад: /interval 120")
	}

	stored := b.subscribers.SetInterval(ctx, chatID, requested)

	var warning string
	switch {
	case requested < b.intervals.Min:
		warning = fmt.Sprintf("⚠️ Мінімальний інтервал - %d секунд.\n", b.intervals.Min)
	case requested > b.intervals.Max:
		warning = fmt.Sprintf("⚠️ Максимальний інтервал - %d секунд.\n", b.intervals.Max)
	}
	return htmlMessage(chatID, fmt.Sprintf("%s✅ Інтервал перевірки встановлено на %d секунд.", warning, stored))
}

func (b *Bot) filter(ctx context.Context, chatID int64, args string) botApi.Chattable {

	if !b.isKnown(chatID) {
		return htmlMessage(chatID, notStartedText)
	}

	if args == "" {
		msg := htmlMessage(chatID, "Оберіть фільтр для проектів:")
		msg.ReplyMarkup = filterKeyboard()
		return msg
	}

	fields := strings.Fields(args)
	value := strings.Join(fields[1:], "")
	switch strings.ToLower(fields[0]) {
	case "clear":
		b.subscribers.ClearFilter(ctx, chatID)
		return htmlMessage(chatID, "✅ Фільтри скинуто. Будуть показані всі проекти.")
	case "plus":
		return htmlMessage(chatID, b.applyFilterValue(ctx, chatID, models.FilterKeyOnlyForPlus, "1"))
	case "skills", models.FilterKeySkillID:
		return b.setFilterValue(ctx, chatID, models.FilterKeySkillID, value)
	case "employer", models.FilterKeyEmployerID:
		return b.setFilterValue(ctx, chatID, models.FilterKeyEmployerID, value)
	default:
		return htmlMessage(chatID, "❌ Невідомий фільтр. Використовуйте: /filter skills 69,99 | employer 123 | plus | clear")
	}
}

func (b *Bot) setFilterValue(ctx context.Context, chatID int64, key string, value string) botApi.Chattable {

	if value == "" {
		if key == models.FilterKeySkillID {
			return htmlMessage(chatID, "Вкажіть ID навичок через кому, наприклад: /skill_id 69,99")
		}
		return htmlMessage(chatID, "Вкажіть ID роботодавця, наприклад: /employer_id 123")
	}

	return htmlMessage(chatID, b.applyFilterValue(ctx, chatID, key, value))
}

func (b *Bot) applyFilterValue(ctx context.Context, chatID int64, key string, value string) string {

	subscriber, ok := b.subscribers.Get(chatID)
	if !ok {
		return notStartedText
	}

	filter, err := subscriber.Filter.With(key, value)
	if err != nil {
		if errors.Is(err, models.ErrUnknownFilterKey) {
			return "❌ Невідомий фільтр."
		}
		return "❌ Некоректне значення фільтра: " + html.EscapeString(value)
	}

	b.subscribers.SetFilter(ctx, chatID, filter)
	return fmt.Sprintf("✅ Фільтр встановлено: %s=%s\n\nПоточні фільтри: %s",
		key, html.EscapeString(value), html.EscapeString(filter.Description()))
}

func (b *Bot) status(user *botApi.User, chatID int64) botApi.Chattable {

	subscriber, known := b.subscribers.Get(chatID)

	profile := models.Profile{Username: user.UserName, FirstName: user.FirstName, LastName: user.LastName}
	registered := "немає в БД"
	interval := b.intervals.Default
	if known {
		profile = subscriber.Profile
		registered = subscriber.CreatedAt.Local().Format("02.01.2006 15:04:05")
		interval = subscriber.Interval
	}

	name := strings.TrimSpace(profile.FirstName + " " + profile.LastName)
	if name == "" {
		name = "не вказано"
	}
	username := profile.Username
	if username == "" {
		username = "не вказано"
	}
	notifications := "❌ Зупинено"
	if known && subscriber.Active {
		notifications = "✅ Активні"
	}

	stats := b.subscribers.Stats(b.now())

	return htmlMessage(chatID, fmt.Sprintf("📊 <b>Статус бота</b>\n\n"+
		"👤 <b>Користувач:</b> %s\n"+
		"🆔 <b>Username:</b> @%s\n"+
		"🔔 Сповіщення: %s\n"+
		"⏱ Інтервал перевірки: %d секунд\n"+
		"🔍 Фільтр: %s\n"+
		"📅 Дата реєстрації: %s\n\n"+
		"📡 <b>API:</b> %s\n\n"+
		"📈 <b>Загальна статистика</b>\n"+
		"👥 Активних користувачів: %d\n"+
		"👤 Нових користувачів за 24г: %d\n"+
		"📝 Надіслано проектів: %d",
		html.EscapeString(name), html.EscapeString(username), notifications, interval,
		html.EscapeString(b.subscribers.FilterDescription(chatID)), registered,
		html.EscapeString(b.budget.Status()),
		stats.ActiveCount, stats.NewSubscribers24h, stats.DeliveredCount))
}

// debugSent compares the delivered history with the current upstream page for the subscriber's filter.
func (b *Bot) debugSent(ctx context.Context, chatID int64) botApi.Chattable {

	if !b.subscribers.IsActive(chatID) {
		return htmlMessage(chatID, notStartedText)
	}
	if b.projects == nil {
		return htmlMessage(chatID, "❌ Діагностика недоступна")
	}

	subscriber, _ := b.subscribers.Get(chatID)
	projects := b.projects.FetchProjects(ctx, subscriber.Filter)
	if len(projects) == 0 {
		return htmlMessage(chatID, "❌ Не вдалося отримати проекти з API")
	}

	delivered := lo.CountBy(projects, func(project models.Project) bool {
		return b.subscribers.HasBeenDelivered(chatID, project.ID)
	})

	var report strings.Builder
	fmt.Fprintf(&report, "📊 <b>Діагностика відправлених проектів</b>\n\n"+
		"Загальна кількість відправлених проектів (всім користувачам): %d\n"+
		"Проектів відправлено вам: %d\n"+
		"Кількість отриманих проектів з API: %d\n"+
		"З них відмічено як відправлені вам: %d\n\n"+
		"<b>Останні проекти:</b>\n",
		b.subscribers.Stats(b.now()).DeliveredCount, len(subscriber.Delivered), len(projects), delivered)

	for i, project := range lo.Slice(projects, 0, debugSentPreviewSize) {
		mark := "❌"
		if b.subscribers.HasBeenDelivered(chatID, project.ID) {
			mark = "✅"
		}
		name := []rune(project.Name)
		if len(name) > 30 {
			name = append(name[:30], []rune("...")...)
		}
		fmt.Fprintf(&report, "%d. %s ID %d: %s\n", i+1, mark, project.ID, html.EscapeString(string(name)))
	}

	return htmlMessage(chatID, report.String())
}

func (b *Bot) isKnown(chatID int64) bool {
	_, ok := b.subscribers.Get(chatID)
	return ok
}

const notStartedText = "❌ Спочатку активуйте бота командою /start"

const helpText = "Використовуйте команди:\n" +
	"/filter - обрати фільтр проектів\n" +
	"/interval &lt;секунди&gt; - змінити інтервал перевірки\n" +
	"/status - статус бота та API\n" +
	"/debug_sent - діагностика відправлених проектів\n" +
	"/stop - зупинити сповіщення"

func filterKeyboard() botApi.InlineKeyboardMarkup {
	return botApi.NewInlineKeyboardMarkup(
		botApi.NewInlineKeyboardRow(botApi.NewInlineKeyboardButtonData("За ID навичок", "input:"+promptSkills)),
		botApi.NewInlineKeyboardRow(botApi.NewInlineKeyboardButtonData("За ID роботодавця", "input:"+promptEmployer)),
		botApi.NewInlineKeyboardRow(botApi.NewInlineKeyboardButtonData("Тільки для Plus", "filter:"+models.FilterKeyOnlyForPlus+":1")),
		botApi.NewInlineKeyboardRow(botApi.NewInlineKeyboardButtonData("Без фільтрів (усі проекти)", "filter:clear")),
	)
}
