// Package requirement builds x402 Payment Required challenges for gated
// resources. Builders are pure: they read resource state and settlement
// configuration and produce a challenge body, with no persistence.
package requirement

import (
	"fmt"

	"github.com/postera-labs/settle/currency"
	"github.com/postera-labs/settle/types"
)

// DefaultMaxTimeoutSeconds bounds how long a client has to satisfy a
// challenge before it should re-request.
const DefaultMaxTimeoutSeconds = 300

// Settlement describes the single network and asset payments settle on.
type Settlement struct {
	Network  string
	ChainID  int64
	Asset    string
	Treasury string
}

// ResolveRecipient returns the author payout address, falling back to the
// platform treasury when the publication has none configured. An empty
// result means the treasury itself is missing from the environment.
func (s Settlement) ResolveRecipient(payoutAddress string) (string, error) {
	if payoutAddress != "" {
		return payoutAddress, nil
	}
	if s.Treasury == "" {
		return "", types.NewTreasuryNotConfigured()
	}
	return s.Treasury, nil
}

// Exact builds an "exact" scheme challenge: one recipient, one amount.
// Used for read-unlock, where the splitter divides funds downstream of the
// single payment.
func Exact(s Settlement, amount, recipient, description, resourceURL string) *types.PaymentRequired {
	return envelope(types.PaymentRequirements{
		Scheme:            types.SchemeExact,
		Network:           s.Network,
		ChainID:           s.ChainID,
		Asset:             s.Asset,
		Amount:            amount,
		Recipient:         recipient,
		Description:       description,
		MimeType:          "application/json",
		ResourceURL:       resourceURL,
		MaxTimeoutSeconds: DefaultMaxTimeoutSeconds,
	})
}

// SponsorSplit builds a "split" scheme challenge for sponsoring a free
// post: the author and the protocol treasury each receive their basis-point
// share of the total, computed losslessly in micro-units.
func SponsorSplit(s Settlement, total, authorRecipient string, authorBps, protocolBps int, description, resourceURL string) (*types.PaymentRequired, error) {
	if s.Treasury == "" {
		return nil, types.NewTreasuryNotConfigured()
	}
	authorAmount, protocolAmount, err := currency.Split(total, authorBps, protocolBps)
	if err != nil {
		return nil, types.NewValidation(fmt.Sprintf("invalid amount: %v", err))
	}
	return envelope(types.PaymentRequirements{
		Scheme:            types.SchemeSplit,
		Network:           s.Network,
		ChainID:           s.ChainID,
		Asset:             s.Asset,
		AuthorRecipient:   authorRecipient,
		AuthorAmount:      authorAmount,
		ProtocolRecipient: s.Treasury,
		ProtocolAmount:    protocolAmount,
		TotalAmount:       total,
		Description:       description,
		MimeType:          "application/json",
		ResourceURL:       resourceURL,
		MaxTimeoutSeconds: DefaultMaxTimeoutSeconds,
	}), nil
}

func envelope(req types.PaymentRequirements) *types.PaymentRequired {
	return &types.PaymentRequired{
		Error:               "Payment Required",
		PaymentRequirements: []types.PaymentRequirements{req},
	}
}
