package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/halcyonlabs/pharos/internal/prefs"
	"github.com/halcyonlabs/pharos/internal/recoerr"
	"github.com/halcyonlabs/pharos/internal/store"
)

// Store is the persistence surface the subscriber needs.
type Store interface {
	InsertInteraction(ctx context.Context, in *store.Interaction) error
	CountInteractions(ctx context.Context, userID int64) (int, error)
}

// Recomputer refreshes preference vectors after new interactions.
type Recomputer interface {
	Recompute(ctx context.Context, userID int64, dislikeWeight float64) (*prefs.Preference, error)
}

// Outcomes attributes interactions to experiment variants.
type Outcomes interface {
	RecordOutcome(ctx context.Context, userID int64, kind string)
	DislikeWeightFor(userID int64) float64
}

// Embedder turns item text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorSink receives item vector changes.
type VectorSink interface {
	Upsert(ctx context.Context, itemID, channelID uuid.UUID, vector []float32) error
	Delete(ctx context.Context, itemID uuid.UUID) error
}

// RebuildNotifier hears about index growth for cluster staleness tracking.
type RebuildNotifier interface {
	NoteUpsert()
}

// Config tunes the recompute trigger.
type Config struct {
	MinInteractions int
	RecomputeBatch  int
}

// InteractionEvent is the payload on feed.interaction.recorded.
type InteractionEvent struct {
	UserID int64     `json:"user_id"`
	ItemID uuid.UUID `json:"item_id"`
	Kind   string    `json:"kind"`
	TS     time.Time `json:"ts"`
}

// ItemEvent is the payload on feed.item.upserted and feed.item.deleted.
type ItemEvent struct {
	ItemID    uuid.UUID `json:"item_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
}

// Subscriber consumes feed events and feeds the recommendation core.
type Subscriber struct {
	client   *Client
	data     Store
	prefs    Recomputer
	outcomes Outcomes
	embedder Embedder
	vectors  VectorSink
	notify   RebuildNotifier
	cfg      Config
	logger   *slog.Logger
	subs     []*nats.Subscription
}

// NewSubscriber creates a feed-event subscriber.
func NewSubscriber(client *Client, data Store, prefs Recomputer, outcomes Outcomes, embedder Embedder, vectors VectorSink, notify RebuildNotifier, cfg Config, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		client:   client,
		data:     data,
		prefs:    prefs,
		outcomes: outcomes,
		embedder: embedder,
		vectors:  vectors,
		notify:   notify,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start subscribes to the feed subjects.
func (s *Subscriber) Start() error {
	subjects := map[string]func(msg *nats.Msg){
		"feed.interaction.recorded": s.handleInteraction,
		"feed.item.upserted":        s.handleItemUpserted,
		"feed.item.deleted":         s.handleItemDeleted,
	}

	for subject, handler := range subjects {
		// Try a JetStream durable consumer first, fall back to core NATS.
		sub, err := s.client.js.Subscribe(subject, handler,
			nats.Durable("pharos-"+sanitizeSubject(subject)),
			nats.DeliverAll(),
			nats.AckExplicit(),
			nats.MaxDeliver(3),
		)
		if err != nil {
			s.logger.Warn("JetStream subscribe failed, using core NATS", "subject", subject, "error", err)
			sub, err = s.client.conn.Subscribe(subject, handler)
			if err != nil {
				return fmt.Errorf("subscribing to %s: %w", subject, err)
			}
		}
		s.subs = append(s.subs, sub)
		s.logger.Info("subscribed to feed subject", "subject", subject)
	}
	return nil
}

// Stop unsubscribes from all subjects.
func (s *Subscriber) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
}

func (s *Subscriber) handleInteraction(msg *nats.Msg) {
	defer s.ack(msg)

	var event InteractionEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.logger.Error("malformed interaction event", "error", err, "subject", msg.Subject)
		return
	}
	if err := s.HandleInteraction(context.Background(), event); err != nil {
		s.logger.Error("interaction not recorded", "error", err, "user", event.UserID, "item", event.ItemID)
	}
}

// HandleInteraction records one interaction, attributes it to the user's
// variant, and kicks off a recompute when the batch threshold is crossed.
func (s *Subscriber) HandleInteraction(ctx context.Context, event InteractionEvent) error {
	switch event.Kind {
	case store.KindLike, store.KindDislike, store.KindSkip:
	default:
		return fmt.Errorf("unknown interaction kind %q", event.Kind)
	}
	if event.TS.IsZero() {
		event.TS = time.Now()
	}

	if err := s.data.InsertInteraction(ctx, &store.Interaction{
		UserID:    event.UserID,
		ItemID:    event.ItemID,
		Kind:      event.Kind,
		CreatedAt: event.TS,
	}); err != nil {
		return err
	}

	s.outcomes.RecordOutcome(ctx, event.UserID, event.Kind)

	count, err := s.data.CountInteractions(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("counting interactions: %w", err)
	}
	if s.recomputeDue(count) {
		s.recomputeAsync(event.UserID)
	}
	return nil
}

// recomputeDue fires on the eligibility boundary and every batch after it.
func (s *Subscriber) recomputeDue(count int) bool {
	if count < s.cfg.MinInteractions {
		return false
	}
	if count == s.cfg.MinInteractions {
		return true
	}
	return s.cfg.RecomputeBatch > 0 && (count-s.cfg.MinInteractions)%s.cfg.RecomputeBatch == 0
}

func (s *Subscriber) recomputeAsync(userID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		weight := s.outcomes.DislikeWeightFor(userID)
		if _, err := s.prefs.Recompute(ctx, userID, weight); err != nil && !errors.Is(err, recoerr.ErrNotEligible) {
			s.logger.Warn("recompute after interaction failed", "user", userID, "error", err)
		}
	}()
}

func (s *Subscriber) handleItemUpserted(msg *nats.Msg) {
	defer s.ack(msg)

	var event ItemEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.logger.Error("malformed item event", "error", err, "subject", msg.Subject)
		return
	}
	if err := s.HandleItemUpserted(context.Background(), event); err != nil {
		s.logger.Error("item not indexed", "error", err, "item", event.ItemID)
	}
}

// HandleItemUpserted embeds the item text and upserts the vector index.
func (s *Subscriber) HandleItemUpserted(ctx context.Context, event ItemEvent) error {
	text := strings.TrimSpace(event.Title + " " + event.Summary)
	if text == "" {
		return fmt.Errorf("item %s has no text to embed", event.ItemID)
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embedding item: %w", err)
	}
	if err := s.vectors.Upsert(ctx, event.ItemID, event.ChannelID, vectors[0]); err != nil {
		return fmt.Errorf("indexing item: %w", err)
	}
	s.notify.NoteUpsert()
	s.logger.Info("item indexed", "item", event.ItemID, "channel", event.ChannelID)
	return nil
}

func (s *Subscriber) handleItemDeleted(msg *nats.Msg) {
	defer s.ack(msg)

	var event ItemEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.logger.Error("malformed item event", "error", err, "subject", msg.Subject)
		return
	}
	if err := s.vectors.Delete(context.Background(), event.ItemID); err != nil {
		s.logger.Error("item not removed from index", "error", err, "item", event.ItemID)
	}
}

func (s *Subscriber) ack(msg *nats.Msg) {
	if msg.Reply != "" {
		_ = msg.Ack()
	}
}

func sanitizeSubject(subject string) string {
	return strings.Map(func(c rune) rune {
		switch c {
		case '.', '>', '*':
			return '-'
		default:
			return c
		}
	}, subject)
}
