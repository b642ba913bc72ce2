package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/domain"
)

// maxReceive is the queue receive batch size.
const maxReceive = 10

// Service drains analytics results into the destination tables.
type Service struct {
	receiver Receiver
	repo     Repository
	cat      *catalog.Catalog
	routes   RouteHints
}

// NewService creates an ingestor. routes may be nil when no dispatcher
// shares the process (flush modes).
func NewService(receiver Receiver, repo Repository, cat *catalog.Catalog, routes RouteHints) *Service {
	return &Service{receiver: receiver, repo: repo, cat: cat, routes: routes}
}

// ProcessOnce receives one batch and settles each message. It returns how
// many results were written and how many messages were received; a receive
// error is returned as-is so callers can apply their own backoff.
func (s *Service) ProcessOnce(ctx context.Context) (written, received int, err error) {
	msgs, err := s.receiver.Receive(ctx, maxReceive)
	if err != nil {
		return 0, 0, fmt.Errorf("receive results: %w", err)
	}
	for _, msg := range msgs {
		if s.handle(ctx, msg) {
			written++
		}
	}
	return written, len(msgs), nil
}

// DrainOnce keeps receiving until the queue reports empty. Used by the
// flush_sqs process mode and at backfill exit.
func (s *Service) DrainOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		written, received, err := s.ProcessOnce(ctx)
		total += written
		if err != nil {
			return total, err
		}
		if received == 0 {
			return total, nil
		}
	}
}

// RunFlushLoop drains the queue on an interval until the context ends.
func (s *Service) RunFlushLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cycle := 0
	for {
		cycle++
		n, err := s.DrainOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Printf("[Ingest] flush cycle %d error: %v", cycle, err)
		} else {
			log.Printf("[Ingest] flush cycle %d complete: %d written", cycle, n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// handle settles one message. It returns true when the result was written
// and the message deleted (or delete failed after a successful write, which
// redelivery will reconcile). False leaves the message visible.
func (s *Service) handle(ctx context.Context, msg Message) bool {
	var doc resultDoc
	parseErr := json.Unmarshal([]byte(msg.Body), &doc)

	msgType := msg.Attributes["messageType"]
	if msgType == "" && parseErr == nil {
		msgType = doc.Type
	}
	if msgType != domain.MessageTypeResult {
		log.Printf("[Ingest] skipping message type %q (%s)", msgType, msg.ID)
		return false
	}

	if parseErr != nil {
		log.Printf("[Ingest] invalid JSON in %s: %v", msg.ID, parseErr)
		_ = s.repo.LogError(ctx, "", domain.ErrorKindResultParse, parseErr.Error())
		return false
	}
	id := doc.id()
	if id == "" {
		log.Printf("[Ingest] result without callId (%s)", msg.ID)
		_ = s.repo.LogError(ctx, "", domain.ErrorKindResultParse, "result without callId")
		return false
	}

	destinationType := s.route(msg, &doc, id)
	keys := s.lookupKeys(ctx, destinationType, id)

	n := reduce(&doc, destinationType, keys)
	for _, issue := range n.Report.Issues {
		log.Printf("[Ingest] %s: %s", id, issue)
	}

	if err := s.persist(ctx, n); err != nil {
		log.Printf("[Ingest] persist %s failed: %v", id, err)
		_ = s.repo.LogError(ctx, id, domain.ErrorKindPersistence, err.Error())
		return false
	}

	if err := s.receiver.Delete(ctx, msg.ReceiptHandle); err != nil {
		// Writes are idempotent; the redelivered copy re-runs them.
		log.Printf("[Ingest] delete %s failed: %v", msg.ID, err)
	}
	return true
}

// route derives the destination type: explicit attribute, body echo,
// catalog lookup of the echoed sourceId, the dispatch-time route cache,
// and finally the CALL default.
func (s *Service) route(msg Message, doc *resultDoc, id string) string {
	if dt := msg.Attributes["destinationType"]; dt != "" {
		return dt
	}
	if doc.DestinationType != "" {
		return doc.DestinationType
	}
	srcID := msg.Attributes["sourceId"]
	if srcID == "" {
		srcID = doc.SourceID
	}
	if srcID != "" {
		if src, ok := s.cat.ByID(srcID); ok {
			return src.DestinationType
		}
	}
	if s.routes != nil {
		if dt, ok := s.routes.Pop(id); ok {
			return dt
		}
	}
	return domain.DestinationCall
}

func (s *Service) lookupKeys(ctx context.Context, destinationType, id string) domain.SourceKeys {
	src, ok := s.cat.ByDestination(destinationType)
	if !ok {
		return domain.SourceKeys{}
	}
	keys, err := s.repo.SourceKeys(ctx, src, id)
	switch {
	case err == nil:
		return *keys
	case errors.Is(err, ErrSourceRowNotFound):
		log.Printf("[Ingest] no source row for %s (%s); writing without header keys", id, destinationType)
	default:
		log.Printf("[Ingest] source key lookup failed for %s: %v", id, err)
	}
	return domain.SourceKeys{}
}

// persist runs the three destination writes in order. Each is its own
// transaction; the first failure aborts so the message stays visible.
func (s *Service) persist(ctx context.Context, n *normalized) error {
	if err := s.repo.WriteCallSummary(ctx, &n.CallSummary); err != nil {
		return fmt.Errorf("call summary: %w", err)
	}
	if err := s.repo.WriteConversationSummary(ctx, &n.Summary); err != nil {
		return fmt.Errorf("conversation summary: %w", err)
	}
	if err := s.repo.ReplaceCategories(ctx, n.Summary.SourceType, n.Summary.SourceID, n.Categories); err != nil {
		return fmt.Errorf("categories: %w", err)
	}
	return nil
}
