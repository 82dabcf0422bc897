package bot

import (
	"context"
	"fmt"
	"github.com/asaskevich/EventBus"
	botApi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/maxaizer/fh-notifier/internal/domain/events"
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"net/http"
)

// Deliverer sends project notifications, keeping under the Telegram flood limits.
type Deliverer struct {
	api     apiInterface
	bus     EventBus.Bus
	limiter *rate.Limiter
}

func NewDeliverer(api apiInterface, bus EventBus.Bus, messagesPerSecond float64) *Deliverer {
	return &Deliverer{
		api:     api,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(messagesPerSecond), 1),
	}
}

func (d *Deliverer) Deliver(ctx context.Context, subscriberID int64, project models.Project) error {

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := htmlMessage(subscriberID, formatProjectMessage(project))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = botApi.NewInlineKeyboardMarkup(
		botApi.NewInlineKeyboardRow(botApi.NewInlineKeyboardButtonURL("🔗 Відкрити проект", projectURL(project))),
	)

	if _, err := d.api.Send(msg); err != nil {
		var tgErr *botApi.Error
		if errors.As(err, &tgErr) && tgErr.Code == http.StatusForbidden {
			d.bus.Publish(events.SubscriberBlockedTopic, events.SubscriberBlocked{
				SubscriberID: subscriberID,
				Reason:       tgErr.Message,
			})
		}
		return fmt.Errorf("failed to send project %d: %w", project.ID, err)
	}
	return nil
}
