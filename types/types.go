// Package types defines the domain model shared by the Postera settlement
// core: posts and publications, the x402 challenge and proof shapes, and the
// ledger rows produced by settled payments.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentKind classifies a settled payment event.
type PaymentKind string

const (
	KindReadAccess  PaymentKind = "read_access"
	KindSponsorship PaymentKind = "sponsorship"
)

// PaymentScheme identifies the shape of a 402 challenge.
type PaymentScheme string

const (
	// SchemeExact names one recipient and one amount (read-unlock).
	SchemeExact PaymentScheme = "exact"
	// SchemeSplit names author and protocol recipients with per-recipient
	// amounts (sponsorship).
	SchemeSplit PaymentScheme = "split"
)

// PostStatus values mirror the publishing workflow.
const (
	PostStatusDraft     = "draft"
	PostStatusPublished = "published"
	PostStatusArchived  = "archived"
)

// GrantPermanent is the only grant type issued today: read access, once
// paid for, never expires.
const GrantPermanent = "permanent"

// Publication groups posts under an author and supplies the payout address
// receipts are settled against.
type Publication struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string    `gorm:"size:128" json:"name"`
	PayoutAddress string    `gorm:"size:64" json:"payoutAddress"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Post is a piece of content, optionally paywalled at a fixed USDC price.
type Post struct {
	ID            uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	PublicationID uuid.UUID    `gorm:"type:uuid;index" json:"publicationId"`
	Title         string       `gorm:"size:256" json:"title"`
	Status        string       `gorm:"size:32;index" json:"status"`
	IsPaywalled   bool         `json:"isPaywalled"`
	PriceUSDC     string       `gorm:"size:32" json:"priceUsdc,omitempty"`
	BodyMarkdown  string       `gorm:"type:text" json:"-"`
	BodyHTML      string       `gorm:"type:text" json:"-"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	Publication   *Publication `json:"-"`
}

// PayoutAddress resolves the author payout address for the post, or empty
// when the owning publication has none configured.
func (p *Post) PayoutAddress() string {
	if p.Publication == nil {
		return ""
	}
	return p.Publication.PayoutAddress
}

// PostView is the serialized form of a post returned by the API. Preview
// views of paywalled, un-granted posts must never carry the body fields;
// they are pointers so omitted fields disappear from the JSON rather than
// rendering as empty strings.
type PostView struct {
	ID            uuid.UUID `json:"id"`
	PublicationID uuid.UUID `json:"publicationId"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	IsPaywalled   bool      `json:"isPaywalled"`
	PriceUSDC     string    `json:"priceUsdc,omitempty"`
	BodyMarkdown  *string   `json:"bodyMarkdown,omitempty"`
	BodyHTML      *string   `json:"bodyHtml,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// PreviewView strips the sensitive body fields.
func (p *Post) PreviewView() *PostView {
	return &PostView{
		ID:            p.ID,
		PublicationID: p.PublicationID,
		Title:         p.Title,
		Status:        p.Status,
		IsPaywalled:   p.IsPaywalled,
		PriceUSDC:     p.PriceUSDC,
		CreatedAt:     p.CreatedAt,
	}
}

// FullView includes the rendered body. Only reachable once the caller is
// entitled to the content.
func (p *Post) FullView() *PostView {
	v := p.PreviewView()
	v.BodyMarkdown = &p.BodyMarkdown
	v.BodyHTML = &p.BodyHTML
	return v
}

// PaymentProof is the transient settlement proof extracted from a request.
// It is never persisted; it is consumed to produce a PaymentReceipt.
type PaymentProof struct {
	TxRef        string `json:"txRef"`
	PayerAddress string `json:"payerAddress"`
	Network      string `json:"network"`
}

// PaymentRequirements is the machine-readable body of a 402 challenge.
// The "exact" scheme fills Recipient and Amount; the "split" scheme fills
// the author/protocol recipient and amount pairs plus TotalAmount.
type PaymentRequirements struct {
	Scheme            PaymentScheme `json:"scheme"`
	Network           string        `json:"network"`
	ChainID           int64         `json:"chainId,omitempty"`
	Asset             string        `json:"asset"`
	Amount            string        `json:"amount,omitempty"`
	Recipient         string        `json:"recipient,omitempty"`
	AuthorRecipient   string        `json:"authorRecipient,omitempty"`
	AuthorAmount      string        `json:"authorAmount,omitempty"`
	ProtocolRecipient string        `json:"protocolRecipient,omitempty"`
	ProtocolAmount    string        `json:"protocolAmount,omitempty"`
	TotalAmount       string        `json:"totalAmount,omitempty"`
	Description       string        `json:"description"`
	MimeType          string        `json:"mimeType,omitempty"`
	ResourceURL       string        `json:"resourceUrl"`
	MaxTimeoutSeconds int           `json:"maxTimeoutSeconds"`
}

// Validate checks that the requirements carry every field a client needs to
// construct a payment.
func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme != SchemeExact && pr.Scheme != SchemeSplit {
		return fmt.Errorf("paymentRequirements.scheme %q is not supported", pr.Scheme)
	}
	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}
	if pr.Asset == "" {
		return fmt.Errorf("paymentRequirements.asset is required")
	}
	if pr.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("paymentRequirements.maxTimeoutSeconds must be greater than 0")
	}
	switch pr.Scheme {
	case SchemeExact:
		if pr.Recipient == "" || pr.Amount == "" {
			return fmt.Errorf("exact scheme requires recipient and amount")
		}
	case SchemeSplit:
		if pr.AuthorRecipient == "" || pr.ProtocolRecipient == "" {
			return fmt.Errorf("split scheme requires author and protocol recipients")
		}
		if pr.AuthorAmount == "" || pr.ProtocolAmount == "" || pr.TotalAmount == "" {
			return fmt.Errorf("split scheme requires author, protocol and total amounts")
		}
	}
	return nil
}

// PaymentRequired is the 402 response envelope. The same requirements are
// mirrored in the X-Payment-Requirements header so non-body-reading clients
// can pick them up.
type PaymentRequired struct {
	Error               string                `json:"error"`
	PaymentRequirements []PaymentRequirements `json:"paymentRequirements"`
}

// PaymentReceipt is an append-only ledger row recording a settled payment
// event and its split. Receipts are created exactly once per event and are
// never mutated or deleted.
type PaymentReceipt struct {
	ID                uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Kind              PaymentKind `gorm:"size:32;index:idx_receipt_kind_post" json:"kind"`
	PostID            uuid.UUID   `gorm:"type:uuid;index:idx_receipt_kind_post" json:"postId"`
	PublicationID     *uuid.UUID  `gorm:"type:uuid;index" json:"publicationId,omitempty"`
	PayerAddress      *string     `gorm:"size:64" json:"payerAddress,omitempty"`
	AmountUSDC        string      `gorm:"size:32" json:"amountUsdc"`
	AmountMicro       int64       `json:"-"`
	Chain             string      `gorm:"size:32" json:"chain"`
	TxRef             string      `gorm:"size:128;index" json:"txRef"`
	RecipientAuthor   string      `gorm:"size:64" json:"recipientAuthor"`
	RecipientProtocol string      `gorm:"size:64" json:"recipientProtocol"`
	SplitBpsAuthor    int         `json:"splitBpsAuthor"`
	SplitBpsProtocol  int         `json:"splitBpsProtocol"`
	CreatedAt         time.Time   `json:"createdAt"`
}

// AccessGrant records that a payer has permanently unlocked a paywalled
// post. The (PostID, PayerAddress) pair is the idempotency key: at most one
// grant exists per pair, and its existence is the sole gate for repeat
// access.
type AccessGrant struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PostID       uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_grant_post_payer" json:"postId"`
	PayerAddress string    `gorm:"size:64;uniqueIndex:idx_grant_post_payer" json:"payerAddress"`
	GrantType    string    `gorm:"size:32" json:"grantType"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SponsorAggregate is the rolling sponsorship total for a post over a
// trailing window.
type SponsorAggregate struct {
	TotalUSDC       string `json:"totalUsdc"`
	UniqueSponsors  int    `json:"uniqueSponsors"`
	TotalMicroUnits int64  `json:"-"`
}
