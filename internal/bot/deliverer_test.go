package bot

import (
	"context"
	"github.com/asaskevich/EventBus"
	botApi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/maxaizer/fh-notifier/internal/domain/events"
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func testProject() models.Project {
	return models.Project{
		ID:            100,
		Name:          "Bot <for> shop",
		Description:   "<p>Need a bot</p><p>with payments</p>",
		URL:           "https://freelancehunt.com/project/bot/100.html",
		StatusID:      models.StatusOpenForProposals,
		EmployerLogin: "acme",
		EmployerName:  "John Doe",
		Skills:        []models.Skill{{ID: 22, Name: "Go"}, {ID: 7, Name: "Telegram"}},
		Budget:        &models.Budget{Amount: 5000, Currency: "UAH"},
	}
}

func Test_Deliverer_Deliver_ShouldSendFormattedMessage(t *testing.T) {

	api := &mockApi{}
	deliverer := NewDeliverer(api, EventBus.New(), 100)

	require.NoError(t, deliverer.Deliver(context.Background(), 42, testProject()))
	require.Len(t, api.SentMessages, 1)

	msg := api.SentMessages[0].(botApi.MessageConfig)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, botApi.ModeHTML, msg.ParseMode)
	assert.Contains(t, msg.Text, "<b>🔥 Новий проект:</b> Bot &lt;for&gt; shop")
	assert.Contains(t, msg.Text, "<b>Опис:</b> Need a bot\nwith payments")
	assert.Contains(t, msg.Text, "<b>Бюджет:</b> 5000 UAH")
	assert.Contains(t, msg.Text, "<b>Навички:</b> Go, Telegram")
	assert.Contains(t, msg.Text, "<b>Замовник:</b> John Doe (@acme)")

	markup := msg.ReplyMarkup.(botApi.InlineKeyboardMarkup)
	require.Len(t, markup.InlineKeyboard, 1)
	require.NotNil(t, markup.InlineKeyboard[0][0].URL)
	assert.Equal(t, "https://freelancehunt.com/project/bot/100.html", *markup.InlineKeyboard[0][0].URL)
}

func Test_Deliverer_WhenBlockedByUser_ShouldPublishEvent(t *testing.T) {

	api := &mockApi{sendErr: &botApi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}}
	bus := EventBus.New()

	var blocked []events.SubscriberBlocked
	require.NoError(t, bus.Subscribe(events.SubscriberBlockedTopic, func(event events.SubscriberBlocked) {
		blocked = append(blocked, event)
	}))

	deliverer := NewDeliverer(api, bus, 100)
	err := deliverer.Deliver(context.Background(), 42, testProject())

	assert.Error(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, int64(42), blocked[0].SubscriberID)
}

func Test_Deliverer_WhenOtherError_ShouldNotPublish(t *testing.T) {

	api := &mockApi{sendErr: &botApi.Error{Code: 400, Message: "Bad Request"}}
	bus := EventBus.New()

	published := false
	require.NoError(t, bus.Subscribe(events.SubscriberBlockedTopic, func(events.SubscriberBlocked) { published = true }))

	assert.Error(t, NewDeliverer(api, bus, 100).Deliver(context.Background(), 42, testProject()))
	assert.False(t, published)
}

func Test_Deliverer_WhenContextCancelled_ShouldNotSend(t *testing.T) {

	api := &mockApi{}
	deliverer := NewDeliverer(api, EventBus.New(), 0.001)
	require.NoError(t, deliverer.Deliver(context.Background(), 1, testProject()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, deliverer.Deliver(ctx, 1, testProject()))
	assert.Len(t, api.SentMessages, 1)
}

func Test_DescriptionPreview(t *testing.T) {

	assert.Equal(t, "Опис відсутній", descriptionPreview("<p></p>"))
	assert.Equal(t, "line\nnext", descriptionPreview("line<br/>next"))

	long := strings.Repeat("ї", 250)
	preview := descriptionPreview(long)
	assert.Equal(t, strings.Repeat("ї", 200)+"...", preview)
}

func Test_FormatProjectMessage_WhenOptionalFieldsMissing(t *testing.T) {

	text := formatProjectMessage(models.Project{ID: 5})

	assert.Contains(t, text, "Назва відсутня")
	assert.NotContains(t, text, "Бюджет")
	assert.NotContains(t, text, "Замовник")
	assert.Contains(t, text, "https://freelancehunt.com/project/5.html")
}
