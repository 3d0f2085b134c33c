package settle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/postera-labs/settle/currency"
	"github.com/postera-labs/settle/requirement"
	"github.com/postera-labs/settle/types"
)

// SponsorState names the terminal state a sponsorship request ended in.
type SponsorState string

const (
	// SponsorChallenge — no proof was presented; a 402 challenge returned.
	SponsorChallenge SponsorState = "challenge"
	// SponsorRecorded — a proof was verified and a receipt appended.
	SponsorRecorded SponsorState = "recorded"
)

// SponsorOutcome is the result of one pass through the sponsorship state
// machine.
type SponsorOutcome struct {
	State     SponsorState
	Challenge *types.PaymentRequired
	Receipt   *ReceiptSummary
	Rolling   *types.SponsorAggregate
}

// Sponsor runs the pay-what-you-want state machine for a free post.
//
// Sponsorship is deliberately not idempotent per payer: every verified
// proof appends a receipt, and repeat sponsorship by the same payer is
// expected. Validation and state errors surface before anything persists.
func (s *Service) Sponsor(ctx context.Context, postID uuid.UUID, payer, amountUSDC string, proof *types.PaymentProof) (*SponsorOutcome, error) {
	post, err := s.findPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	if post.Status != types.PostStatusPublished {
		return nil, types.NewInvalidState("post is not published")
	}
	if post.IsPaywalled {
		return nil, types.NewInvalidState("sponsorship is only available for free posts")
	}

	micro, err := currency.ToMicroUnits(amountUSDC)
	if err != nil {
		return nil, types.NewValidation(fmt.Sprintf("invalid amount: %v", err))
	}
	if micro == 0 {
		return nil, types.NewValidation("amount must be greater than 0")
	}

	authorRecipient, err := s.cfg.Settlement.ResolveRecipient(post.PayoutAddress())
	if err != nil {
		return nil, err
	}

	if proof != nil && proof.PayerAddress != "" {
		payer = proof.PayerAddress
	}

	if proof == nil {
		challenge, err := requirement.SponsorSplit(
			s.cfg.Settlement,
			amountUSDC,
			authorRecipient,
			SponsorBpsAuthor,
			SponsorBpsProtocol,
			fmt.Sprintf("Sponsor post: %q", post.Title),
			fmt.Sprintf("/api/v1/posts/%s/sponsor", post.ID),
		)
		if err != nil {
			return nil, err
		}
		s.rec.IncCounter("challenge", map[string]string{"kind": string(types.KindSponsorship), "outcome": "issued"})
		return &SponsorOutcome{State: SponsorChallenge, Challenge: challenge}, nil
	}

	if err := s.verifyProof(ctx, proof); err != nil {
		return nil, err
	}

	if s.cfg.Settlement.Treasury == "" {
		return nil, types.NewTreasuryNotConfigured()
	}

	authorAmount, protocolAmount, err := currency.Split(amountUSDC, SponsorBpsAuthor, SponsorBpsProtocol)
	if err != nil {
		return nil, types.NewValidation(fmt.Sprintf("invalid amount: %v", err))
	}

	receipt := &types.PaymentReceipt{
		Kind:              types.KindSponsorship,
		PostID:            post.ID,
		PublicationID:     &post.PublicationID,
		PayerAddress:      nullablePayer(payer),
		AmountUSDC:        amountUSDC,
		AmountMicro:       micro,
		Chain:             s.cfg.Settlement.Network,
		TxRef:             proof.TxRef,
		RecipientAuthor:   authorRecipient,
		RecipientProtocol: s.cfg.Settlement.Treasury,
		SplitBpsAuthor:    SponsorBpsAuthor,
		SplitBpsProtocol:  SponsorBpsProtocol,
	}
	if err := s.store.CreatePaymentReceipt(ctx, receipt); err != nil {
		s.log.Error("receipt create failed", map[string]any{"postId": post.ID.String(), "txRef": proof.TxRef, "error": err.Error()})
		return nil, types.NewInternal()
	}

	rolling, err := s.store.AggregateSponsorship(ctx, post.ID, s.now().Add(-SponsorWindow))
	if err != nil {
		s.log.Error("sponsorship aggregate failed", map[string]any{"postId": post.ID.String(), "error": err.Error()})
		return nil, types.NewInternal()
	}

	s.rec.IncCounter("settled", map[string]string{"kind": string(types.KindSponsorship), "outcome": "ok"})
	s.log.Info("sponsorship recorded", map[string]any{
		"postId": post.ID.String(),
		"payer":  payer,
		"txRef":  proof.TxRef,
		"amount": amountUSDC,
	})

	return &SponsorOutcome{
		State: SponsorRecorded,
		Receipt: &ReceiptSummary{
			ID:         receipt.ID,
			Kind:       receipt.Kind,
			AmountUSDC: receipt.AmountUSDC,
			TxRef:      receipt.TxRef,
			CreatedAt:  receipt.CreatedAt,
			Split: SplitSummary{
				AuthorAmount:   authorAmount,
				ProtocolAmount: protocolAmount,
				BpsAuthor:      SponsorBpsAuthor,
				BpsProtocol:    SponsorBpsProtocol,
			},
		},
		Rolling: rolling,
	}, nil
}
