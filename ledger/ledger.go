// Package ledger is the durable side of settlement: posts, receipts and
// access grants behind a narrow store contract. The settlement core treats
// the store as strongly consistent for read-after-write; a grant created by
// one request is visible to the next request for the same payer and post.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/postera-labs/settle/types"
)

// Store is the persistence contract the settlement core consumes.
//
// CreateAccessGrant must behave as create-if-absent: a unique-key conflict
// on (post, payer) is success, not an error, so concurrent proofs for the
// same pair leave at most one grant behind. Receipts have no such
// uniqueness; every settled payment appends a row.
type Store interface {
	// FindPost loads a post with its publication payout address joined.
	// A missing post returns (nil, nil).
	FindPost(ctx context.Context, id uuid.UUID) (*types.Post, error)

	// FindAccessGrant returns the grant for (post, payer), or (nil, nil).
	FindAccessGrant(ctx context.Context, postID uuid.UUID, payerAddress string) (*types.AccessGrant, error)

	// CreateAccessGrant inserts the grant if absent. The returned grant is
	// the surviving row, whether freshly created or pre-existing.
	CreateAccessGrant(ctx context.Context, grant *types.AccessGrant) (*types.AccessGrant, error)

	// CreatePaymentReceipt appends a receipt row.
	CreatePaymentReceipt(ctx context.Context, receipt *types.PaymentReceipt) error

	// AggregateSponsorship sums sponsorship receipts for the post created
	// at or after since, and counts distinct payer addresses.
	AggregateSponsorship(ctx context.Context, postID uuid.UUID, since time.Time) (*types.SponsorAggregate, error)
}
