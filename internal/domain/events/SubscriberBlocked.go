package events

var SubscriberBlockedTopic = "SubscriberBlockedEvent"

// SubscriberBlocked is published when the chat transport learns that the subscriber
// can no longer receive messages (bot blocked, chat deleted).
type SubscriberBlocked struct {
	SubscriberID int64
	Reason       string
}
