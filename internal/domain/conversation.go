package domain

import "time"

// Wire constants shared by the outbound and inbound queues.
const (
	// MessageTypeConversation is the outbound message type for assembled
	// conversations handed to the analytics service.
	MessageTypeConversation = "CONVERSATION_ASSEMBLY"

	// MessageTypeResult is the inbound message type for analytics results.
	// Messages of any other type are left on the queue untouched.
	MessageTypeResult = "ML_PROCESSING_RESULT"

	// MessageSource identifies this bridge in message attributes and bodies.
	MessageSource = "on-premises-cdc"

	// MessageSourceBackfill replaces MessageSource on conversations the
	// backfill engine dispatches, so downstream can tell replayed traffic
	// from live capture.
	MessageSourceBackfill = "backfill-service"
)

// Destination type tags. Part of the composite key in the destination
// tables and carried on every outbound message.
const (
	DestinationCall     = "CALL"
	DestinationWhatsApp = "WAPP"
)

// Fragment is one utterance/message row read from a source table.
// Text is the up-to-4000-byte prefix of the underlying column.
type Fragment struct {
	SourceID     string
	BAN          string
	SubscriberNo string
	Channel      string
	FragmentTime time.Time
	Text         string
}

// Message is one normalized conversation turn.
type Message struct {
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the canonical assembled document sent to the analytics
// service. It exists only between assembly and dispatch.
type Conversation struct {
	Type            string    `json:"type"`
	SourceID        string    `json:"callId"`
	CatalogID       string    `json:"sourceId"`
	DestinationType string    `json:"destinationType"`
	BAN             string    `json:"ban"`
	SubscriberNo    string    `json:"subscriberNo"`
	StartTime       time.Time `json:"callTime"`
	Messages        []Message `json:"messages"`
	MessageCount    int       `json:"messageCount"`
	AssembledAt     time.Time `json:"assembledAt"`
	Source          string    `json:"source"`
}

// SkipCode classifies why assembly declined to produce a conversation.
// Skips are outcomes, not errors.
type SkipCode string

const (
	SkipShort           SkipCode = "short"
	SkipMissingChannels SkipCode = "missing-channels"
	SkipEmpty           SkipCode = "empty"
)

// SkipReason explains a declined assembly.
type SkipReason struct {
	Code   SkipCode
	Detail string
}

func (r SkipReason) String() string {
	if r.Detail == "" {
		return string(r.Code)
	}
	return string(r.Code) + ": " + r.Detail
}

// Error log kinds recorded in the error_log table.
const (
	ErrorKindSendFailed       = "SQS_SEND_FAILED"
	ErrorKindAssemblyRejected = "ASSEMBLY_REJECTED"
	ErrorKindAssemblySkipped  = "ASSEMBLY_SKIPPED"
	ErrorKindResultParse      = "RESULT_PARSE_ERROR"
	ErrorKindPersistence      = "RESULT_PERSIST_ERROR"
)
