package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/domain"
)

// Config holds dispatcher tuning.
type Config struct {
	// MaxSendAttempts is the failure count at which an id is retired to
	// sqs_permanent_failures instead of being rescanned forever.
	MaxSendAttempts int
}

// Service sends assembled conversations to the outbound queue.
type Service struct {
	queue       Queue
	repo        Repository
	routes      *RouteCache
	maxAttempts int
}

// NewService creates a dispatcher. The route cache may be shared with the
// inbound ingestor.
func NewService(queue Queue, repo Repository, routes *RouteCache, cfg Config) *Service {
	max := cfg.MaxSendAttempts
	if max <= 0 {
		max = 5
	}
	return &Service{queue: queue, repo: repo, routes: routes, maxAttempts: max}
}

// Dispatch serializes conv, sends it, and settles the id's processed state.
// On success the id is marked processed before Dispatch returns. On failure
// the id stays unmarked (the next cycle retries) unless its accumulated
// failures reached MaxSendAttempts, in which case it is retired.
func (s *Service) Dispatch(ctx context.Context, src catalog.Source, conv *domain.Conversation) (string, error) {
	body, err := json.Marshal(conv)
	if err != nil {
		return "", fmt.Errorf("marshal conversation %s: %w", conv.SourceID, err)
	}

	attrs := map[string]string{
		"messageType":     domain.MessageTypeConversation,
		"source":          conv.Source,
		"callId":          conv.SourceID,
		"sourceId":        conv.CatalogID,
		"destinationType": conv.DestinationType,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	messageID, err := s.queue.Send(ctx, string(body), attrs)
	if err != nil {
		s.recordFailure(ctx, src, conv.SourceID, err)
		return "", fmt.Errorf("send conversation %s: %w", conv.SourceID, err)
	}

	// Mark before returning: an id that reached the queue must never be
	// collected again, even if the process dies right after.
	if err := s.repo.MarkProcessed(ctx, src, conv.SourceID, messageID); err != nil {
		return messageID, fmt.Errorf("mark %s processed: %w", conv.SourceID, err)
	}

	if s.routes != nil {
		s.routes.Put(conv.SourceID, conv.DestinationType)
	}

	if err := s.repo.BumpStatus(ctx, src.ModeKey, time.Now().UTC()); err != nil {
		// Non-fatal: the status row is a watermark, not the dedup source.
		log.Printf("[Dispatch] status bump failed for %s: %v", src.ModeKey, err)
	}

	return messageID, nil
}

func (s *Service) recordFailure(ctx context.Context, src catalog.Source, id string, sendErr error) {
	attempts, err := s.repo.RecordSendFailure(ctx, id, sendErr.Error())
	if err != nil {
		log.Printf("[Dispatch] error-log write failed for %s: %v", id, err)
		return
	}
	if attempts < s.maxAttempts {
		return
	}

	log.Printf("[Dispatch] retiring %s after %d failed send attempts", id, attempts)
	if err := s.repo.RecordPermanentFailure(ctx, id, sendErr.Error(), attempts); err != nil {
		log.Printf("[Dispatch] permanent-failure write failed for %s: %v", id, err)
		return
	}
	if err := s.repo.MarkProcessed(ctx, src, id, ""); err != nil {
		log.Printf("[Dispatch] mark after retire failed for %s: %v", id, err)
	}
}
