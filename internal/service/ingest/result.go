package ingest

import (
	"strings"
	"time"

	"github.com/northcell/conversation-cdc/internal/domain"
	"github.com/northcell/conversation-cdc/internal/normalize"
)

// resultDoc is the raw inbound analytics document. Shape-variant fields
// decode through normalize.Value; diagnostics are logged, never fatal.
type resultDoc struct {
	Type             string          `json:"type"`
	CallID           normalize.Value `json:"callId"`
	SourceID         string          `json:"sourceId"`
	DestinationType  string          `json:"destinationType"`
	BAN              normalize.Value `json:"ban"`
	CustomerID       normalize.Value `json:"customerId"`
	SubscriberNo     normalize.Value `json:"subscriberNo"`
	SubscriberNoAlt  normalize.Value `json:"subscriber_no"`
	CallTime         normalize.Value `json:"callTime"`
	CallTimeAlt      normalize.Value `json:"call_time"`
	Summary          normalize.Value `json:"summary"`
	Sentiment        normalize.Value `json:"sentiment"`
	Classification   normalize.Value `json:"classification"`
	Classifications  normalize.Value `json:"classifications"`
	Confidence       normalize.Value `json:"confidence"`
	ProcessingTime   normalize.Value `json:"processingTime"`
	ModelVersion     normalize.Value `json:"modelVersion"`
	Products         normalize.Value `json:"products"`
	ActionItems      normalize.Value `json:"action_items"`
	UnresolvedIssues normalize.Value `json:"unresolved_issues"`
	Satisfaction     normalize.Value `json:"customer_satisfaction"`
	ChurnConfidence  normalize.Value `json:"churn_confidence"`
}

func (d *resultDoc) id() string {
	return strings.TrimSpace(d.CallID.Stringify())
}

func (d *resultDoc) ban() string {
	if s := strings.TrimSpace(d.BAN.Stringify()); s != "" {
		return s
	}
	return strings.TrimSpace(d.CustomerID.Stringify())
}

func (d *resultDoc) subscriberNo() string {
	if s := strings.TrimSpace(d.SubscriberNo.Stringify()); s != "" {
		return s
	}
	return strings.TrimSpace(d.SubscriberNoAlt.Stringify())
}

func (d *resultDoc) callTime() time.Time {
	if t := parseTime(d.CallTime.Stringify()); !t.IsZero() {
		return t
	}
	return parseTime(d.CallTimeAlt.Stringify())
}

func (d *resultDoc) modelVersion() string {
	v := strings.TrimSpace(d.ModelVersion.Stringify())
	if v == "" {
		v = normalize.DefaultModelVersion
	}
	return normalize.Truncate(v, normalize.MaxModelVersion)
}

// timeLayouts covers the timestamp spellings observed on the inbound queue.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// normalized is the flat, bounded form of one result, ready to persist.
type normalized struct {
	CallSummary domain.CallSummary
	Summary     domain.ConversationSummary
	Categories  []string
	Report      normalize.Report
}

// reduce applies the normalization laws to the document. destinationType
// is the already-derived routing tag; keys are the denormalized header
// fields from the source table (zero-valued when the row aged out).
func reduce(doc *resultDoc, destinationType string, keys domain.SourceKeys) *normalized {
	var rep normalize.Report

	sentiment := normalize.Sentiment(doc.Sentiment, &rep)
	primary, all := normalize.Classification(doc.Classification, doc.Classifications, &rep)
	summary := normalize.Summary(doc.Summary)
	confidence := doc.Confidence.Num()
	processingTime := int(doc.ProcessingTime.Num())
	modelVersion := doc.modelVersion()

	n := &normalized{
		CallSummary: domain.CallSummary{
			CallID:             doc.id(),
			BAN:                doc.ban(),
			SubscriberNo:       doc.subscriberNo(),
			CallTime:           doc.callTime(),
			Summary:            summary,
			Sentiment:          sentiment,
			Classification:     primary,
			AllClassifications: strings.Join(all, ", "),
			Confidence:         confidence,
			ProcessingTime:     processingTime,
			ModelVersion:       modelVersion,
		},
		Summary: domain.ConversationSummary{
			SourceID:              doc.id(),
			SourceType:            destinationType,
			BAN:                   keys.BAN,
			SubscriberNo:          keys.SubscriberNo,
			ConversationTime:      keys.ConversationTime,
			Summary:               summary,
			Sentiment:             sentiment,
			PrimaryClassification: primary,
			AllClassifications:    strings.Join(all, ", "),
			Confidence:            confidence,
			CustomerSatisfaction:  normalize.Satisfaction(doc.Satisfaction),
			ProductsMentioned:     normalize.Delimited(doc.Products),
			ActionItems:           normalize.ActionItems(doc.ActionItems),
			UnresolvedIssues:      normalize.Delimited(doc.UnresolvedIssues),
			ChurnScore:            normalize.ChurnScore(doc.ChurnConfidence),
			ModelVersion:          modelVersion,
			ProcessingTime:        processingTime,
		},
		Categories: categoriesFrom(primary, all),
		Report:     rep,
	}
	return n
}

// categoriesFrom produces the distinct category rows: every classification
// when the list is populated, else the primary alone. Order-preserving.
func categoriesFrom(primary string, all []string) []string {
	source := all
	if len(source) == 0 && primary != "" {
		source = []string{primary}
	}
	seen := make(map[string]bool, len(source))
	out := make([]string, 0, len(source))
	for _, c := range source {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, normalize.Truncate(c, 255))
	}
	return out
}
