package assembly_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/domain"
	"github.com/northcell/conversation-cdc/internal/service/assembly"
)

// memRepo is an in-memory fragment repository for unit testing.
type memRepo struct {
	mu        sync.Mutex
	fragments map[string][]domain.Fragment // keyed by source id
	err       error
}

func newMemRepo() *memRepo {
	return &memRepo{fragments: make(map[string][]domain.Fragment)}
}

func (m *memRepo) Fragments(_ context.Context, _ catalog.Source, id string) ([]domain.Fragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.fragments[id], nil
}

func callSource() catalog.Source {
	return catalog.Source{
		ID:                 "verint",
		Table:              "verint_text_analysis",
		IDColumn:           "call_id",
		TimeColumn:         "call_time",
		FragmentTimeColumn: "call_time",
		TextColumn:         "text",
		ChannelColumn:      "owner",
		ValidChannels:      []string{"A", "C"},
		RequiredChannels:   []string{"A", "C"},
		MinSegments:        3,
		ModeKey:            "CDC_NORMAL_MODE",
		DestinationType:    domain.DestinationCall,
		Enabled:            true,
	}
}

func fragmentsFor(id string, n int, channels []string) []domain.Fragment {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	out := make([]domain.Fragment, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Fragment{
			SourceID:     id,
			BAN:          "123456",
			SubscriberNo: "0540000001",
			Channel:      channels[i%len(channels)],
			FragmentTime: base.Add(time.Duration(i) * time.Minute),
			Text:         "segment text",
		})
	}
	return out
}

func TestAssembleHappyPath(t *testing.T) {
	repo := newMemRepo()
	repo.fragments["CALL-1"] = fragmentsFor("CALL-1", 4, []string{"A", "C"})

	svc := assembly.NewService(repo)
	conv, skip, err := svc.Assemble(context.Background(), callSource(), "CALL-1")
	if err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}
	if skip != nil {
		t.Fatalf("unexpected skip: %v", skip)
	}
	if conv == nil {
		t.Fatal("expected a conversation")
	}

	if conv.Type != domain.MessageTypeConversation {
		t.Errorf("type = %q", conv.Type)
	}
	if conv.SourceID != "CALL-1" {
		t.Errorf("source id = %q", conv.SourceID)
	}
	if conv.CatalogID != "verint" {
		t.Errorf("catalog id = %q", conv.CatalogID)
	}
	if conv.DestinationType != domain.DestinationCall {
		t.Errorf("destination = %q", conv.DestinationType)
	}
	if conv.Source != domain.MessageSource {
		t.Errorf("source tag = %q", conv.Source)
	}
	if conv.MessageCount != 4 || len(conv.Messages) != 4 {
		t.Errorf("message count = %d (len %d)", conv.MessageCount, len(conv.Messages))
	}
	if conv.BAN != "123456" || conv.SubscriberNo != "0540000001" {
		t.Errorf("header fields = %q / %q", conv.BAN, conv.SubscriberNo)
	}
	if !conv.StartTime.Equal(repo.fragments["CALL-1"][0].FragmentTime) {
		t.Errorf("start time should come from the first fragment")
	}
	if conv.AssembledAt.IsZero() {
		t.Error("assembledAt not set")
	}
}

func TestAssembleTooShort(t *testing.T) {
	repo := newMemRepo()
	repo.fragments["CALL-2"] = fragmentsFor("CALL-2", 2, []string{"A", "C"})

	svc := assembly.NewService(repo)
	conv, skip, err := svc.Assemble(context.Background(), callSource(), "CALL-2")
	if err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}
	if conv != nil {
		t.Fatal("short conversation should not assemble")
	}
	if skip == nil || skip.Code != domain.SkipShort {
		t.Fatalf("skip = %v, want short", skip)
	}
}

func TestAssembleMissingRequiredChannel(t *testing.T) {
	repo := newMemRepo()
	// Five fragments, all from channel A: C never speaks.
	repo.fragments["CALL-3"] = fragmentsFor("CALL-3", 5, []string{"A"})

	svc := assembly.NewService(repo)
	conv, skip, err := svc.Assemble(context.Background(), callSource(), "CALL-3")
	if err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}
	if conv != nil {
		t.Fatal("conversation without required channel should not assemble")
	}
	if skip == nil || skip.Code != domain.SkipMissingChannels {
		t.Fatalf("skip = %v, want missing-channels", skip)
	}
	if !strings.Contains(skip.Detail, "C") {
		t.Errorf("detail should name the missing channel, got %q", skip.Detail)
	}
}

func TestAssembleEmptyText(t *testing.T) {
	repo := newMemRepo()
	frags := fragmentsFor("CALL-4", 4, []string{"A", "C"})
	for i := range frags {
		frags[i].Text = "   \n\t "
	}
	repo.fragments["CALL-4"] = frags

	svc := assembly.NewService(repo)
	conv, skip, err := svc.Assemble(context.Background(), callSource(), "CALL-4")
	if err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}
	if conv != nil {
		t.Fatal("whitespace-only conversation should not assemble")
	}
	if skip == nil || skip.Code != domain.SkipEmpty {
		t.Fatalf("skip = %v, want empty", skip)
	}
}

func TestAssembleDropsBlankFragmentsButKeepsRest(t *testing.T) {
	repo := newMemRepo()
	frags := fragmentsFor("CALL-5", 4, []string{"A", "C"})
	frags[1].Text = ""
	repo.fragments["CALL-5"] = frags

	svc := assembly.NewService(repo)
	conv, skip, err := svc.Assemble(context.Background(), callSource(), "CALL-5")
	if err != nil || skip != nil {
		t.Fatalf("Assemble() = skip %v err %v", skip, err)
	}
	if conv.MessageCount != 3 {
		t.Errorf("message count = %d, want 3 (blank dropped)", conv.MessageCount)
	}
}

func TestAssembleTruncatesLongText(t *testing.T) {
	repo := newMemRepo()
	frags := fragmentsFor("CALL-6", 4, []string{"A", "C"})
	frags[0].Text = strings.Repeat("x", assembly.MaxFragmentBytes+100)
	repo.fragments["CALL-6"] = frags

	svc := assembly.NewService(repo)
	conv, skip, err := svc.Assemble(context.Background(), callSource(), "CALL-6")
	if err != nil || skip != nil {
		t.Fatalf("Assemble() = skip %v err %v", skip, err)
	}
	if got := len(conv.Messages[0].Text); got > assembly.MaxFragmentBytes {
		t.Errorf("message text = %d bytes, want <= %d", got, assembly.MaxFragmentBytes)
	}
}

func TestAssembleRepositoryError(t *testing.T) {
	repo := newMemRepo()
	repo.err = errors.New("connection reset")

	svc := assembly.NewService(repo)
	_, _, err := svc.Assemble(context.Background(), callSource(), "CALL-7")
	if err == nil {
		t.Fatal("expected error from repository")
	}
}
