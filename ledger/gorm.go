package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/postera-labs/settle/currency"
	"github.com/postera-labs/settle/types"
)

// GormStore implements Store on a relational database via gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates the ledger schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Publication{},
		&types.Post{},
		&types.PaymentReceipt{},
		&types.AccessGrant{},
	)
}

func (s *GormStore) FindPost(ctx context.Context, id uuid.UUID) (*types.Post, error) {
	var post types.Post
	err := s.db.WithContext(ctx).Preload("Publication").First(&post, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (s *GormStore) FindAccessGrant(ctx context.Context, postID uuid.UUID, payerAddress string) (*types.AccessGrant, error) {
	var grant types.AccessGrant
	err := s.db.WithContext(ctx).
		First(&grant, "post_id = ? AND payer_address = ?", postID, payerAddress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// CreateAccessGrant inserts the grant, treating a unique-key conflict on
// (post, payer) as success and returning the row that survived.
func (s *GormStore) CreateAccessGrant(ctx context.Context, grant *types.AccessGrant) (*types.AccessGrant, error) {
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	if grant.GrantType == "" {
		grant.GrantType = types.GrantPermanent
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "post_id"}, {Name: "payer_address"}},
			DoNothing: true,
		}).
		Create(grant).Error
	if err != nil {
		return nil, err
	}
	// On conflict the insert is skipped; load the winning row so callers
	// always see the grant that actually exists.
	return s.FindAccessGrant(ctx, grant.PostID, grant.PayerAddress)
}

func (s *GormStore) CreatePaymentReceipt(ctx context.Context, receipt *types.PaymentReceipt) error {
	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}
	return s.db.WithContext(ctx).Create(receipt).Error
}

func (s *GormStore) AggregateSponsorship(ctx context.Context, postID uuid.UUID, since time.Time) (*types.SponsorAggregate, error) {
	var row struct {
		TotalMicro     int64
		UniqueSponsors int
	}
	err := s.db.WithContext(ctx).
		Model(&types.PaymentReceipt{}).
		Select("COALESCE(SUM(amount_micro), 0) AS total_micro, COUNT(DISTINCT payer_address) AS unique_sponsors").
		Where("kind = ? AND post_id = ? AND created_at >= ?", types.KindSponsorship, postID, since).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &types.SponsorAggregate{
		TotalUSDC:       currency.FromMicroUnits(row.TotalMicro),
		UniqueSponsors:  row.UniqueSponsors,
		TotalMicroUnits: row.TotalMicro,
	}, nil
}
