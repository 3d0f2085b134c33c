package settle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/postera-labs/settle/currency"
	"github.com/postera-labs/settle/requirement"
	"github.com/postera-labs/settle/types"
)

// UnlockState names the terminal state a read-unlock request ended in.
type UnlockState string

const (
	// UnlockFree — the post is not paywalled; content returned directly.
	UnlockFree UnlockState = "free"
	// UnlockGranted — an access grant already existed; no new charge.
	UnlockGranted UnlockState = "granted"
	// UnlockChallenge — no proof was presented; a 402 challenge returned.
	UnlockChallenge UnlockState = "challenge"
	// UnlockSettled — a proof was verified, recorded and a grant issued.
	UnlockSettled UnlockState = "settled"
)

// UnlockOutcome is the result of one pass through the read-unlock state
// machine. Exactly one of Challenge or Post is populated; Receipt is set
// only in the settled state.
type UnlockOutcome struct {
	State     UnlockState
	Post      *types.PostView
	Receipt   *ReceiptSummary
	Challenge *types.PaymentRequired
}

// UnlockPost runs the read-unlock state machine for one request.
//
// The sensitive body fields are released only through the free, granted and
// settled states; the challenge path never sees them. Nothing is persisted
// before the submitted proof verifies.
func (s *Service) UnlockPost(ctx context.Context, postID uuid.UUID, payer string, proof *types.PaymentProof) (*UnlockOutcome, error) {
	post, err := s.findPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	if !post.IsPaywalled {
		return &UnlockOutcome{State: UnlockFree, Post: post.FullView()}, nil
	}

	// Proof payer wins over the bare identity header: it is the address
	// the grant will be keyed by.
	if proof != nil && proof.PayerAddress != "" {
		payer = proof.PayerAddress
	}

	if payer != "" {
		grant, err := s.store.FindAccessGrant(ctx, post.ID, payer)
		if err != nil {
			s.log.Error("grant lookup failed", map[string]any{"postId": post.ID.String(), "error": err.Error()})
			return nil, types.NewInternal()
		}
		if grant != nil {
			s.rec.IncCounter("unlock_repeat", map[string]string{"kind": string(types.KindReadAccess), "outcome": "granted"})
			return &UnlockOutcome{State: UnlockGranted, Post: post.FullView()}, nil
		}
	}

	recipient, err := s.cfg.Settlement.ResolveRecipient(post.PayoutAddress())
	if err != nil {
		return nil, err
	}

	if proof == nil {
		challenge := requirement.Exact(
			s.cfg.Settlement,
			post.PriceUSDC,
			recipient,
			fmt.Sprintf("Unlock post: %q", post.Title),
			fmt.Sprintf("/api/v1/posts/%s/unlock", post.ID),
		)
		s.rec.IncCounter("challenge", map[string]string{"kind": string(types.KindReadAccess), "outcome": "issued"})
		return &UnlockOutcome{State: UnlockChallenge, Challenge: challenge}, nil
	}

	if err := s.verifyProof(ctx, proof); err != nil {
		return nil, err
	}

	// The protocol share settles to the treasury, so settlement cannot
	// proceed without one even when the author payout address resolved.
	treasury := s.cfg.Settlement.Treasury
	if treasury == "" {
		return nil, types.NewTreasuryNotConfigured()
	}

	protocolBps := 10_000 - s.cfg.AuthorBps
	authorAmount, protocolAmount, err := currency.Split(post.PriceUSDC, s.cfg.AuthorBps, protocolBps)
	if err != nil {
		s.log.Error("post carries an unparseable price", map[string]any{"postId": post.ID.String(), "price": post.PriceUSDC})
		return nil, types.NewInternal()
	}

	receipt := &types.PaymentReceipt{
		Kind:              types.KindReadAccess,
		PostID:            post.ID,
		PublicationID:     &post.PublicationID,
		PayerAddress:      nullablePayer(payer),
		AmountUSDC:        post.PriceUSDC,
		AmountMicro:       mustMicro(post.PriceUSDC),
		Chain:             s.cfg.Settlement.Network,
		TxRef:             proof.TxRef,
		RecipientAuthor:   recipient,
		RecipientProtocol: treasury,
		SplitBpsAuthor:    s.cfg.AuthorBps,
		SplitBpsProtocol:  protocolBps,
	}
	if err := s.store.CreatePaymentReceipt(ctx, receipt); err != nil {
		s.log.Error("receipt create failed", map[string]any{"postId": post.ID.String(), "txRef": proof.TxRef, "error": err.Error()})
		return nil, types.NewInternal()
	}

	// Create-if-absent: a concurrent request for the same pair may have
	// won the insert, which is still a successful unlock.
	if _, err := s.store.CreateAccessGrant(ctx, &types.AccessGrant{
		PostID:       post.ID,
		PayerAddress: payer,
		GrantType:    types.GrantPermanent,
	}); err != nil {
		s.log.Error("grant create failed", map[string]any{"postId": post.ID.String(), "payer": payer, "error": err.Error()})
		return nil, types.NewInternal()
	}

	s.rec.IncCounter("settled", map[string]string{"kind": string(types.KindReadAccess), "outcome": "ok"})
	s.log.Info("read access settled", map[string]any{
		"postId": post.ID.String(),
		"payer":  payer,
		"txRef":  proof.TxRef,
		"amount": post.PriceUSDC,
	})

	return &UnlockOutcome{
		State: UnlockSettled,
		Post:  post.FullView(),
		Receipt: &ReceiptSummary{
			ID:         receipt.ID,
			Kind:       receipt.Kind,
			AmountUSDC: receipt.AmountUSDC,
			TxRef:      receipt.TxRef,
			CreatedAt:  receipt.CreatedAt,
			Split: SplitSummary{
				AuthorAmount:   authorAmount,
				ProtocolAmount: protocolAmount,
				BpsAuthor:      s.cfg.AuthorBps,
				BpsProtocol:    protocolBps,
			},
		},
	}, nil
}

// PreviewPost resolves the view a reader without payment context is
// entitled to: full content for free posts and granted payers, stripped
// preview otherwise.
func (s *Service) PreviewPost(ctx context.Context, postID uuid.UUID, payer string) (*types.PostView, error) {
	post, err := s.findPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !post.IsPaywalled {
		return post.FullView(), nil
	}
	if payer != "" {
		grant, err := s.store.FindAccessGrant(ctx, post.ID, payer)
		if err != nil {
			s.log.Error("grant lookup failed", map[string]any{"postId": post.ID.String(), "error": err.Error()})
			return nil, types.NewInternal()
		}
		if grant != nil {
			return post.FullView(), nil
		}
	}
	return post.PreviewView(), nil
}
