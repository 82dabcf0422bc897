package bot

import (
	"context"
	"github.com/asaskevich/EventBus"
	botApi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"github.com/maxaizer/fh-notifier/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu    sync.Mutex
	saved map[int64]models.Subscriber
}

func (m *memoryStore) LoadAll(_ context.Context) ([]models.Subscriber, error) {
	return nil, nil
}

func (m *memoryStore) Save(_ context.Context, subscriber models.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[int64]models.Subscriber)
	}
	m.saved[subscriber.ID] = subscriber
	return nil
}

func (m *memoryStore) AddDelivered(_ context.Context, _, _ int64) error {
	return nil
}

func (m *memoryStore) TrimDelivered(_ context.Context, _ int64, _ int64) error {
	return nil
}

type mockApi struct {
	mu           sync.Mutex
	SentMessages []botApi.Chattable
	Requests     []botApi.Chattable
	sendErr      error
	updates      chan botApi.Update
	stopped      bool
}

func (m *mockApi) Send(chattable botApi.Chattable) (botApi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentMessages = append(m.SentMessages, chattable)
	return botApi.Message{}, m.sendErr
}

func (m *mockApi) Request(chattable botApi.Chattable) (*botApi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, chattable)
	return &botApi.APIResponse{Ok: true}, nil
}

func (m *mockApi) GetUpdatesChan(_ botApi.UpdateConfig) botApi.UpdatesChannel {
	return m.updates
}

func (m *mockApi) StopReceivingUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *mockApi) lastText(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	require.NotEmpty(t, m.SentMessages)
	switch msg := m.SentMessages[len(m.SentMessages)-1].(type) {
	case botApi.MessageConfig:
		return msg.Text
	case botApi.EditMessageTextConfig:
		return msg.Text
	default:
		t.Fatalf("unexpected chattable %T", msg)
		return ""
	}
}

type staticBudget string

func (s staticBudget) Status() string {
	return string(s)
}

var testIntervals = services.IntervalConfig{Default: 60, Min: 30, Max: 3600}

func newTestBot(t *testing.T) (*Bot, *mockApi, *services.SubscriberRegistry) {
	t.Helper()

	registry, err := services.NewSubscriberRegistry(EventBus.New(), &memoryStore{}, testIntervals)
	require.NoError(t, err)

	api := &mockApi{updates: make(chan botApi.Update)}
	b, err := NewBot(api, registry, staticBudget("✅ 29/30 запитів (96%)"), testIntervals, 60)
	require.NoError(t, err)
	return b, api, registry
}

const chatID int64 = 42

func commandUpdate(text string) botApi.Update {
	command := text
	for i, r := range text {
		if r == ' ' {
			command = text[:i]
			break
		}
	}
	return botApi.Update{Message: &botApi.Message{
		From: &botApi.User{ID: chatID, UserName: "dev", FirstName: "Ann"},
		Chat: &botApi.Chat{ID: chatID, Type: "private"},
		Text: text,
		Entities: []botApi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command)}},
	}}
}

func textUpdate(text string) botApi.Update {
	return botApi.Update{Message: &botApi.Message{
		From: &botApi.User{ID: chatID},
		Chat: &botApi.Chat{ID: chatID, Type: "private"},
		Text: text,
	}}
}

func callbackUpdate(data string) botApi.Update {
	return botApi.Update{CallbackQuery: &botApi.CallbackQuery{
		ID:      "cb",
		From:    &botApi.User{ID: chatID},
		Message: &botApi.Message{MessageID: 7, Chat: &botApi.Chat{ID: chatID, Type: "private"}},
		Data:    data,
	}}
}

func Test_Bot_Start_ShouldActivateSubscriber(t *testing.T) {

	b, api, registry := newTestBot(t)

	b.handleUpdate(context.Background(), commandUpdate("/start"))

	subscriber, ok := registry.Get(chatID)
	require.True(t, ok)
	assert.True(t, subscriber.Active)
	assert.Equal(t, "dev", subscriber.Username)
	assert.Contains(t, api.lastText(t), "Інтервал перевірки: 60 секунд")
	assert.Contains(t, api.lastText(t), "без фільтрів (усі проекти)")
}

func Test_Bot_Stop_ShouldReportWhetherChanged(t *testing.T) {

	b, api, registry := newTestBot(t)
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate("/start"))
	b.handleUpdate(ctx, commandUpdate("/stop"))
	assert.Equal(t, "❌ Сповіщення про нові проекти зупинено.", api.lastText(t))
	assert.False(t, registry.IsActive(chatID))

	b.handleUpdate(ctx, commandUpdate("/stop"))
	assert.Equal(t, "Сповіщення вже зупинено.", api.lastText(t))
}

func Test_Bot_Interval_WhenBelowMinimum_ShouldClampAndWarn(t *testing.T) {

	b, api, registry := newTestBot(t)
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate("/start"))
	b.handleUpdate(ctx, commandUpdate("/interval 5"))

	assert.Equal(t, 30, registry.Interval(chatID))
	assert.Contains(t, api.lastText(t), "⚠️ Мінімальний інтервал - 30 секунд.")
	assert.Contains(t, api.lastText(t), "встановлено на 30 секунд")

	b.handleUpdate(ctx, commandUpdate("/interval abc"))
	assert.Contains(t, api.lastText(t), "Вкажіть число в секундах")
}

func Test_Bot_Interval_WithoutArgs_ShouldAcceptNextMessage(t *testing.T) {

	b, api, registry := newTestBot(t)
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate("/start"))
	b.handleUpdate(ctx, commandUpdate("/interval"))
	assert.Contains(t, api.lastText(t), "Поточний інтервал перевірки: 60 секунд")

	b.handleUpdate(ctx, textUpdate("not a number"))
	assert.Contains(t, api.lastText(t), "Вкажіть число в секундах")

	b.handleUpdate(ctx, textUpdate("120"))
	assert.Equal(t, 120, registry.Interval(chatID))

	b.handleUpdate(ctx, textUpdate("300"))
	assert.Equal(t, 120, registry.Interval(chatID))
	assert.Contains(t, api.lastText(t), "Очікується команда.")
}

func Test_Bot_Filter_ShouldMergeValues(t *testing.T) {

	b, api, registry := newTestBot(t)
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate("/start"))
	b.handleUpdate(ctx, commandUpdate("/skill_id 99,69"))
	b.handleUpdate(ctx, commandUpdate("/filter employer 123"))
	b.handleUpdate(ctx, commandUpdate("/filter plus"))

	subscriber, _ := registry.Get(chatID)
	assert.Equal(t, []int{69, 99}, subscriber.Filter.SkillIDs)
	require.NotNil(t, subscriber.Filter.EmployerID)
	assert.Equal(t, 123, *subscriber.Filter.EmployerID)
	assert.True(t, subscriber.Filter.OnlyForPlus)
	assert.Contains(t, api.lastText(t), "навички [69,99], роботодавець #123, тільки для Plus-профілів")

	b.handleUpdate(ctx, commandUpdate("/employer_id abc"))
	assert.Contains(t, api.lastText(t), "Некоректне значення фільтра")

	b.handleUpdate(ctx, commandUpdate("/filter clear"))
	subscriber, _ = registry.Get(chatID)
	assert.True(t, subscriber.Filter.IsEmpty())
}

func Test_Bot_FilterCallbacks(t *testing.T) {

	b, api, registry := newTestBot(t)
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate("/start"))
	b.handleUpdate(ctx, commandUpdate("/filter"))

	b.handleUpdate(ctx, callbackUpdate("filter:only_for_plus:1"))
	subscriber, _ := registry.Get(chatID)
	assert.True(t, subscriber.Filter.OnlyForPlus)

	b.handleUpdate(ctx, callbackUpdate("input:skill_id"))
	assert.Contains(t, api.lastText(t), "Введіть значення для фільтра skill_id")
	b.handleUpdate(ctx, textUpdate("22"))
	subscriber, _ = registry.Get(chatID)
	assert.Equal(t, []int{22}, subscriber.Filter.SkillIDs)

	b.handleUpdate(ctx, callbackUpdate("filter:clear"))
	subscriber, _ = registry.Get(chatID)
	assert.True(t, subscriber.Filter.IsEmpty())
	assert.Len(t, api.Requests, 3)
}

func Test_Bot_WhenNotStarted_ShouldAskToStart(t *testing.T) {

	b, api, _ := newTestBot(t)

	b.handleUpdate(context.Background(), commandUpdate("/interval 120"))
	assert.Equal(t, notStartedText, api.lastText(t))

	b.handleUpdate(context.Background(), commandUpdate("/filter"))
	assert.Equal(t, notStartedText, api.lastText(t))
}

func Test_Bot_Status_ShouldIncludeBudgetAndStats(t *testing.T) {

	b, api, registry := newTestBot(t)
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate("/start"))
	registry.MarkDelivered(ctx, chatID, 100)
	b.handleUpdate(ctx, commandUpdate("/status"))

	text := api.lastText(t)
	assert.Contains(t, text, "@dev")
	assert.Contains(t, text, "✅ Активні")
	assert.Contains(t, text, "✅ 29/30 запитів (96%)")
	assert.Contains(t, text, "Активних користувачів: 1")
	assert.Contains(t, text, "Надіслано проектів: 1")
}

type staticProjects struct {
	projects []models.Project
	filters  []models.FilterSpec
}

func (s *staticProjects) FetchProjects(_ context.Context, filter models.FilterSpec) []models.Project {
	s.filters = append(s.filters, filter)
	return s.projects
}

func Test_Bot_DebugSent_ShouldCompareHistoryWithCurrentPage(t *testing.T) {

	b, api, registry := newTestBot(t)
	ctx := context.Background()
	source := &staticProjects{projects: []models.Project{
		{ID: 101, Name: "Telegram bot in Go with a very long project name"},
		{ID: 100, Name: "Landing <page>"},
	}}
	b.SetProjectSource(source)

	b.handleUpdate(ctx, commandUpdate("/start"))
	b.handleUpdate(ctx, commandUpdate("/skill_id 22"))
	registry.MarkDelivered(ctx, chatID, 100)
	registry.MarkDelivered(ctx, chatID, 7)
	b.handleUpdate(ctx, commandUpdate("/debug_sent"))

	text := api.lastText(t)
	assert.Contains(t, text, "Проектів відправлено вам: 2")
	assert.Contains(t, text, "Кількість отриманих проектів з API: 2")
	assert.Contains(t, text, "З них відмічено як відправлені вам: 1")
	assert.Contains(t, text, "1. ❌ ID 101: Telegram bot in Go with a very...")
	assert.Contains(t, text, "2. ✅ ID 100: Landing &lt;page&gt;")
	require.Len(t, source.filters, 1)
	assert.Equal(t, []int{22}, source.filters[0].SkillIDs)
}

func Test_Bot_DebugSent_WhenNotStartedOrApiEmpty_ShouldExplain(t *testing.T) {

	b, api, _ := newTestBot(t)
	ctx := context.Background()
	b.SetProjectSource(&staticProjects{})

	b.handleUpdate(ctx, commandUpdate("/debug_sent"))
	assert.Equal(t, notStartedText, api.lastText(t))

	b.handleUpdate(ctx, commandUpdate("/start"))
	b.handleUpdate(ctx, commandUpdate("/debug_sent"))
	assert.Equal(t, "❌ Не вдалося отримати проекти з API", api.lastText(t))
}

func Test_Bot_UnknownCommand_ShouldReplyWithHelp(t *testing.T) {

	b, api, _ := newTestBot(t)

	b.handleUpdate(context.Background(), commandUpdate("/debug"))
	assert.Contains(t, api.lastText(t), "Невідома команда!")
}

func Test_Bot_Run_ShouldStopOnCancel(t *testing.T) {

	b, api, registry := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	api.updates <- commandUpdate("/start")
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bot did not stop")
	}

	assert.True(t, registry.IsActive(chatID))
	assert.True(t, api.stopped)
}
