package ingest_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/domain"
	"github.com/northcell/conversation-cdc/internal/service/dispatch"
	"github.com/northcell/conversation-cdc/internal/service/ingest"
)

// fakeReceiver feeds a fixed message list and records deletes.
type fakeReceiver struct {
	mu      sync.Mutex
	queue   []ingest.Message
	deleted []string
	recvErr error
}

func (r *fakeReceiver) Receive(_ context.Context, max int) ([]ingest.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recvErr != nil {
		return nil, r.recvErr
	}
	if len(r.queue) == 0 {
		return nil, nil
	}
	n := max
	if n > len(r.queue) {
		n = len(r.queue)
	}
	out := r.queue[:n]
	r.queue = r.queue[n:]
	return out, nil
}

func (r *fakeReceiver) Delete(_ context.Context, receiptHandle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, receiptHandle)
	return nil
}

// memResults is an in-memory ingest repository.
type memResults struct {
	mu            sync.Mutex
	keys          map[string]domain.SourceKeys
	callSummaries map[string]domain.CallSummary
	summaries     map[string]domain.ConversationSummary // sourceType/sourceID
	categories    map[string][]string
	errored       []string
	summaryErr    error
}

func newMemResults() *memResults {
	return &memResults{
		keys:          make(map[string]domain.SourceKeys),
		callSummaries: make(map[string]domain.CallSummary),
		summaries:     make(map[string]domain.ConversationSummary),
		categories:    make(map[string][]string),
	}
}

func (m *memResults) SourceKeys(_ context.Context, _ catalog.Source, id string) (*domain.SourceKeys, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, ingest.ErrSourceRowNotFound
	}
	return &k, nil
}

func (m *memResults) WriteCallSummary(_ context.Context, row *domain.CallSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callSummaries[row.CallID] = *row
	return nil
}

func (m *memResults) WriteConversationSummary(_ context.Context, row *domain.ConversationSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.summaryErr != nil {
		return m.summaryErr
	}
	m.summaries[row.SourceType+"/"+row.SourceID] = *row
	return nil
}

func (m *memResults) ReplaceCategories(_ context.Context, sourceType, sourceID string, categories []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[sourceType+"/"+sourceID] = append([]string(nil), categories...)
	return nil
}

func (m *memResults) LogError(_ context.Context, id, kind, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errored = append(m.errored, kind+":"+id)
	return nil
}

func resultMessage(id, body string) ingest.Message {
	return ingest.Message{
		ID:            "m-" + id,
		Body:          body,
		ReceiptHandle: "rh-" + id,
		Attributes:    map[string]string{"messageType": domain.MessageTypeResult},
	}
}

const billingResult = `{
	"type": "ML_PROCESSING_RESULT",
	"callId": "CALL001",
	"sentiment": "positive",
	"classification": {"primary": "BILLING", "all": ["BILLING", "OFFER"]},
	"churn_confidence": 0.82,
	"customer_satisfaction": 4,
	"summary": {"text": "customer asked about an invoice"},
	"confidence": 0.91,
	"processingTime": 5400
}`

func newIngestor(r *fakeReceiver, repo *memResults, routes ingest.RouteHints) *ingest.Service {
	return ingest.NewService(r, repo, catalog.Default(), routes)
}

func TestIngestWritesAllThreeTables(t *testing.T) {
	recv := &fakeReceiver{queue: []ingest.Message{resultMessage("1", billingResult)}}
	repo := newMemResults()
	repo.keys["CALL001"] = domain.SourceKeys{
		BAN:              "987654",
		SubscriberNo:     "0541112233",
		ConversationTime: time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
	}

	written, received, err := newIngestor(recv, repo, nil).ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce() error: %v", err)
	}
	if written != 1 || received != 1 {
		t.Fatalf("written=%d received=%d", written, received)
	}

	cs, ok := repo.callSummaries["CALL001"]
	if !ok {
		t.Fatal("dicta row missing")
	}
	if cs.Sentiment != 4 {
		t.Errorf("sentiment = %d, want 4", cs.Sentiment)
	}
	if cs.Classification != "BILLING" {
		t.Errorf("classification = %q", cs.Classification)
	}
	if cs.AllClassifications != "BILLING, OFFER" {
		t.Errorf("all classifications = %q", cs.AllClassifications)
	}

	sum, ok := repo.summaries["CALL/CALL001"]
	if !ok {
		t.Fatal("summary row missing")
	}
	if sum.ChurnScore != 82 {
		t.Errorf("churn score = %v, want 82", sum.ChurnScore)
	}
	if sum.CustomerSatisfaction != 4 {
		t.Errorf("satisfaction = %d", sum.CustomerSatisfaction)
	}
	if sum.BAN != "987654" || sum.SubscriberNo != "0541112233" {
		t.Errorf("header keys not denormalized: %q / %q", sum.BAN, sum.SubscriberNo)
	}

	cats := repo.categories["CALL/CALL001"]
	if len(cats) != 2 || cats[0] != "BILLING" || cats[1] != "OFFER" {
		t.Errorf("categories = %v", cats)
	}

	if len(recv.deleted) != 1 {
		t.Errorf("deleted %d messages, want 1", len(recv.deleted))
	}
}

func TestIngestIdempotentDoubleDelivery(t *testing.T) {
	recv := &fakeReceiver{queue: []ingest.Message{
		resultMessage("1", billingResult),
		resultMessage("1b", billingResult),
	}}
	repo := newMemResults()

	svc := newIngestor(recv, repo, nil)
	if _, err := svc.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce() error: %v", err)
	}

	// Second delivery replaces, never duplicates.
	if got := repo.callSummaries["CALL001"].Sentiment; got != 4 {
		t.Errorf("sentiment = %d", got)
	}
	cats := repo.categories["CALL/CALL001"]
	if len(cats) != 2 {
		t.Errorf("categories after redelivery = %v, want exactly 2", cats)
	}
	if len(recv.deleted) != 2 {
		t.Errorf("deleted %d, want 2", len(recv.deleted))
	}
}

func TestIngestLeavesWrongTypeVisible(t *testing.T) {
	msg := ingest.Message{
		ID:            "m-x",
		Body:          `{"hello": "world"}`,
		ReceiptHandle: "rh-x",
		Attributes:    map[string]string{"messageType": "SOMETHING_ELSE"},
	}
	recv := &fakeReceiver{queue: []ingest.Message{msg}}
	repo := newMemResults()

	written, received, err := newIngestor(recv, repo, nil).ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce() error: %v", err)
	}
	if written != 0 || received != 1 {
		t.Errorf("written=%d received=%d", written, received)
	}
	if len(recv.deleted) != 0 {
		t.Error("foreign message must stay on the queue")
	}
}

func TestIngestLeavesMalformedJSONVisible(t *testing.T) {
	msg := resultMessage("bad", `{"callId": `)
	recv := &fakeReceiver{queue: []ingest.Message{msg}}
	repo := newMemResults()

	written, _, err := newIngestor(recv, repo, nil).ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce() error: %v", err)
	}
	if written != 0 {
		t.Errorf("written = %d", written)
	}
	if len(recv.deleted) != 0 {
		t.Error("malformed message must stay on the queue")
	}
	if len(repo.errored) == 0 {
		t.Error("parse error should be recorded")
	}
}

func TestIngestTypeFallbackFromBody(t *testing.T) {
	msg := ingest.Message{
		ID:            "m-2",
		Body:          billingResult,
		ReceiptHandle: "rh-2",
		Attributes:    map[string]string{},
	}
	recv := &fakeReceiver{queue: []ingest.Message{msg}}
	repo := newMemResults()

	written, _, err := newIngestor(recv, repo, nil).ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce() error: %v", err)
	}
	if written != 1 {
		t.Errorf("written = %d; body type echo should be accepted", written)
	}
}

func TestIngestRouteDerivationOrder(t *testing.T) {
	cases := []struct {
		name  string
		attrs map[string]string
		body  string
		cache map[string]string
		want  string
	}{
		{
			name:  "attribute wins",
			attrs: map[string]string{"messageType": domain.MessageTypeResult, "destinationType": "WAPP"},
			body:  `{"callId": "R1", "destinationType": "CALL"}`,
			want:  "WAPP",
		},
		{
			name:  "body echo",
			attrs: map[string]string{"messageType": domain.MessageTypeResult},
			body:  `{"callId": "R2", "destinationType": "WAPP"}`,
			want:  "WAPP",
		},
		{
			name:  "sourceId through catalog",
			attrs: map[string]string{"messageType": domain.MessageTypeResult},
			body:  `{"callId": "R3", "sourceId": "sf_oc"}`,
			want:  "WAPP",
		},
		{
			name:  "route cache",
			attrs: map[string]string{"messageType": domain.MessageTypeResult},
			body:  `{"callId": "R4"}`,
			cache: map[string]string{"R4": "WAPP"},
			want:  "WAPP",
		},
		{
			name:  "default CALL",
			attrs: map[string]string{"messageType": domain.MessageTypeResult},
			body:  `{"callId": "R5"}`,
			want:  "CALL",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recv := &fakeReceiver{queue: []ingest.Message{{
				ID: "m", Body: tc.body, ReceiptHandle: "rh", Attributes: tc.attrs,
			}}}
			repo := newMemResults()
			routes := dispatch.NewRouteCache()
			for id, dt := range tc.cache {
				routes.Put(id, dt)
			}

			if _, _, err := newIngestor(recv, repo, routes).ProcessOnce(context.Background()); err != nil {
				t.Fatalf("ProcessOnce() error: %v", err)
			}

			found := false
			for key := range repo.summaries {
				if strings.HasPrefix(key, tc.want+"/") {
					found = true
				}
			}
			if !found {
				t.Errorf("no summary written under destination %s (have %v)", tc.want, keysOf(repo.summaries))
			}
		})
	}
}

func keysOf(m map[string]domain.ConversationSummary) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestIngestPersistFailureLeavesMessageVisible(t *testing.T) {
	recv := &fakeReceiver{queue: []ingest.Message{resultMessage("1", billingResult)}}
	repo := newMemResults()
	repo.summaryErr = errors.New("disk full")

	written, _, err := newIngestor(recv, repo, nil).ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce() error: %v", err)
	}
	if written != 0 {
		t.Errorf("written = %d", written)
	}
	if len(recv.deleted) != 0 {
		t.Error("message must stay visible when a write fails")
	}
	if len(repo.errored) == 0 {
		t.Error("persistence error should be recorded")
	}
}

func TestIngestReceiveError(t *testing.T) {
	recv := &fakeReceiver{recvErr: errors.New("endpoint down")}
	repo := newMemResults()

	_, _, err := newIngestor(recv, repo, nil).ProcessOnce(context.Background())
	if err == nil {
		t.Fatal("expected receive error")
	}
}

func TestDrainOnceStopsWhenEmpty(t *testing.T) {
	recv := &fakeReceiver{queue: []ingest.Message{
		resultMessage("1", billingResult),
		resultMessage("2", `{"type":"ML_PROCESSING_RESULT","callId":"CALL002","sentiment":2}`),
	}}
	repo := newMemResults()

	n, err := newIngestor(recv, repo, nil).DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce() error: %v", err)
	}
	if n != 2 {
		t.Errorf("drained = %d, want 2", n)
	}
	if len(repo.callSummaries) != 2 {
		t.Errorf("call summaries = %d", len(repo.callSummaries))
	}
}
