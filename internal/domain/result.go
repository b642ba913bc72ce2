package domain

import "time"

// ConversationSummary is the normalized destination row written once per
// analytics result, keyed by (SourceType, SourceID). Delete-then-insert
// keeps redelivered results idempotent.
type ConversationSummary struct {
	SourceID              string
	SourceType            string
	BAN                   string
	SubscriberNo          string
	ConversationTime      time.Time
	Summary               string
	Sentiment             int
	PrimaryClassification string
	AllClassifications    string
	Confidence            float64
	CustomerSatisfaction  int
	ProductsMentioned     string
	ActionItems           string
	UnresolvedIssues      string
	ChurnScore            float64
	ModelVersion          string
	ProcessingTime        int
}

// CallSummary is the per-call destination row (dicta_call_summary), the
// compact summary consumed by the call-detail views.
type CallSummary struct {
	CallID             string
	BAN                string
	SubscriberNo       string
	CallTime           time.Time
	Summary            string
	Sentiment          int
	Classification     string
	AllClassifications string
	Confidence         float64
	ProcessingTime     int
	ModelVersion       string
}

// SourceKeys are the denormalized header fields looked up from the
// originating source table when a result is persisted.
type SourceKeys struct {
	BAN              string
	SubscriberNo     string
	ConversationTime time.Time
}
