package constant

// Durable log topics, one per domain plus the fixed dead-letter topic.
const (
	TopicUserEvents    = "user-events"
	TopicOrderEvents   = "order-events"
	TopicPaymentEvents = "payment-events"
	TopicProductEvents = "product-events"
	TopicDeadLetter    = "dead-letter-events"
)

// Real-time pub/sub channels, `<domain>:<action>`.
const (
	ChannelUserCreated        = "user:created"
	ChannelUserUpdated        = "user:updated"
	ChannelOrderCreated       = "order:created"
	ChannelOrderStatusChanged = "order:status-changed"
	ChannelPaymentProcessed   = "payment:processed"
	ChannelProductUpdated     = "product:updated"
)

// Append-log record headers carried alongside every event.
const (
	HeaderEventType = "eventType"
	HeaderSource    = "source"
	HeaderVersion   = "version"
)

// Stream layout on the broker. Every topic lives under the shared
// EVENTS stream as `events.<topic>`.
const (
	StreamName          = "EVENTS"
	StreamSubjectPrefix = "events."
	StreamWildcard      = "events.>"
)

// SubjectForTopic maps a logical topic name to its broker subject.
func SubjectForTopic(topic string) string {
	return StreamSubjectPrefix + topic
}

// In-process spillover topic for dead letters that could not reach the broker.
const TopicDeadLetterSpillover = "dead-letter-spillover"
