package assembly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/domain"
	"github.com/northcell/conversation-cdc/internal/normalize"
)

// MaxFragmentBytes caps each message text at the destination column width.
const MaxFragmentBytes = 4000

// Service assembles conversations from source fragments.
type Service struct {
	repo Repository
}

// NewService creates an assembler backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Assemble fetches all fragments for id and builds the outbound document.
// A nil conversation with a non-nil skip reason means the id is not viable
// yet (or ever); an error means the source could not be read. Exactly one
// of the three results is meaningful.
func (s *Service) Assemble(ctx context.Context, src catalog.Source, id string) (*domain.Conversation, *domain.SkipReason, error) {
	fragments, err := s.repo.Fragments(ctx, src, id)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch fragments for %s: %w", id, err)
	}

	if len(fragments) < src.MinSegments {
		return nil, &domain.SkipReason{
			Code:   domain.SkipShort,
			Detail: fmt.Sprintf("%d segment(s), need %d", len(fragments), src.MinSegments),
		}, nil
	}

	observed := make(map[string]bool, len(fragments))
	for _, f := range fragments {
		observed[f.Channel] = true
	}
	var missing []string
	for _, ch := range src.RequiredChannels {
		if !observed[ch] {
			missing = append(missing, ch)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.SkipReason{
			Code:   domain.SkipMissingChannels,
			Detail: "missing " + strings.Join(missing, ","),
		}, nil
	}

	messages := make([]domain.Message, 0, len(fragments))
	for _, f := range fragments {
		text := strings.TrimSpace(normalize.Truncate(f.Text, MaxFragmentBytes))
		if text == "" {
			continue
		}
		messages = append(messages, domain.Message{
			Channel:   f.Channel,
			Text:      text,
			Timestamp: f.FragmentTime,
		})
	}
	if len(messages) == 0 {
		return nil, &domain.SkipReason{Code: domain.SkipEmpty, Detail: "no usable text"}, nil
	}

	// Header fields come from the first fragment in fragment-time order.
	first := fragments[0]
	conv := &domain.Conversation{
		Type:            domain.MessageTypeConversation,
		SourceID:        id,
		CatalogID:       src.ID,
		DestinationType: src.DestinationType,
		BAN:             first.BAN,
		SubscriberNo:    first.SubscriberNo,
		StartTime:       first.FragmentTime,
		Messages:        messages,
		MessageCount:    len(messages),
		AssembledAt:     time.Now().UTC(),
		Source:          domain.MessageSource,
	}
	return conv, nil, nil
}
