// Package settle implements the two payment state machines of the
// settlement core: read-unlock for paywalled posts and sponsorship for free
// posts. Both share the challenge, proof and split machinery but differ in
// idempotency policy — unlocks are deduplicated by access grant, sponsor
// receipts append unconditionally.
package settle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/postera-labs/settle/currency"
	"github.com/postera-labs/settle/ledger"
	"github.com/postera-labs/settle/logger"
	"github.com/postera-labs/settle/metrics"
	"github.com/postera-labs/settle/requirement"
	"github.com/postera-labs/settle/types"
	"github.com/postera-labs/settle/verification"
)

// Sponsorship splits 90/10 between author and protocol.
const (
	SponsorBpsAuthor   = 9000
	SponsorBpsProtocol = 1000
)

// SponsorWindow is the trailing window for the rolling sponsorship
// aggregate returned with each receipt.
const SponsorWindow = 7 * 24 * time.Hour

// Config carries the settlement policy the service applies.
type Config struct {
	Settlement requirement.Settlement
	// AuthorBps is the author's share of a read-unlock payment; the
	// protocol keeps the remainder.
	AuthorBps int
}

// Service wires the state machines to their collaborators.
type Service struct {
	store    ledger.Store
	verifier verification.Verifier
	dupes    verification.DuplicateChecker
	cfg      Config
	log      logger.Logger
	rec      metrics.Recorder
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger replaces the default noop logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics replaces the default noop recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) { s.rec = r }
}

// WithDuplicateChecker replaces the default no-op transaction reference
// checker.
func WithDuplicateChecker(d verification.DuplicateChecker) Option {
	return func(s *Service) { s.dupes = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs a settlement service.
func New(store ledger.Store, verifier verification.Verifier, cfg Config, opts ...Option) *Service {
	if cfg.AuthorBps <= 0 {
		cfg.AuthorBps = SponsorBpsAuthor
	}
	s := &Service{
		store:    store,
		verifier: verifier,
		dupes:    verification.NoopDuplicateChecker{},
		cfg:      cfg,
		log:      logger.NoopLogger{},
		rec:      metrics.NoopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReceiptSummary is the caller-facing slice of a persisted receipt.
type ReceiptSummary struct {
	ID         uuid.UUID         `json:"id"`
	Kind       types.PaymentKind `json:"kind"`
	AmountUSDC string            `json:"amountUsdc"`
	TxRef      string            `json:"txRef"`
	CreatedAt  time.Time         `json:"createdAt"`
	Split      SplitSummary      `json:"split"`
}

// SplitSummary reports how a settled amount was divided.
type SplitSummary struct {
	AuthorAmount   string `json:"authorAmount"`
	ProtocolAmount string `json:"protocolAmount"`
	BpsAuthor      int    `json:"bpsAuthor"`
	BpsProtocol    int    `json:"bpsProtocol"`
}

// verifyProof runs the verifier and duplicate seam; any failure surfaces
// before a single row is written.
func (s *Service) verifyProof(ctx context.Context, p *types.PaymentProof) error {
	dup, err := s.dupes.IsDuplicate(ctx, p.TxRef)
	if err != nil {
		s.log.Error("duplicate check failed", map[string]any{"txRef": p.TxRef, "error": err.Error()})
		return types.NewInternal()
	}
	if dup {
		return types.NewValidation("transaction reference already consumed")
	}
	res, err := s.verifier.Verify(ctx, p)
	if err != nil {
		s.log.Error("proof verification failed", map[string]any{"txRef": p.TxRef, "error": err.Error()})
		return types.NewInternal()
	}
	if !res.Valid {
		return types.NewValidation(fmt.Sprintf("payment proof rejected: %s", res.InvalidReason))
	}
	return nil
}

func (s *Service) findPost(ctx context.Context, postID uuid.UUID) (*types.Post, error) {
	post, err := s.store.FindPost(ctx, postID)
	if err != nil {
		s.log.Error("post lookup failed", map[string]any{"postId": postID.String(), "error": err.Error()})
		return nil, types.NewInternal()
	}
	if post == nil {
		return nil, types.NewNotFound("post not found")
	}
	return post, nil
}

// nullablePayer converts the extractor's empty-string payer to the
// receipt's nullable column representation.
func nullablePayer(payer string) *string {
	if payer == "" {
		return nil
	}
	return &payer
}

func mustMicro(amount string) int64 {
	micro, err := currency.ToMicroUnits(amount)
	if err != nil {
		// Amounts reaching a receipt were validated upstream.
		return 0
	}
	return micro
}
