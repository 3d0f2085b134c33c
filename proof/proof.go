// Package proof extracts x402 settlement proofs from inbound requests.
//
// Two wire shapes are accepted: the structured x402 v2 JSON body, and the
// legacy X-Payment-Response header carrying either a raw transaction hash
// or a small JSON object. Absence of a proof is not an error; it is the
// signal that drives the 402 challenge path.
package proof

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/postera-labs/settle/types"
)

const (
	// HeaderPaymentResponse carries the legacy proof: either a raw
	// 0x-prefixed 64-hex-digit transaction hash, or JSON {txHash, chainId?}.
	HeaderPaymentResponse = "X-Payment-Response"
	// HeaderPayerAddress optionally identifies the payer wallet.
	HeaderPayerAddress = "X-Payer-Address"
)

// x402Version2 is the structured payload version understood here.
const x402Version2 = 2

// evmTxHashLength is the length of a 0x-prefixed EVM transaction hash.
const evmTxHashLength = 66

type structuredBody struct {
	X402Version int `json:"x402Version"`
	Payload     struct {
		TxHash       string `json:"txHash"`
		PayerAddress string `json:"payerAddress"`
	} `json:"payload"`
	Accepted struct {
		Network string `json:"network"`
	} `json:"accepted"`
}

type headerProof struct {
	TxHash  string `json:"txHash"`
	ChainID int64  `json:"chainId"`
}

// FromRequest extracts a payment proof from the request headers and the
// already-read body bytes. It returns nil when no proof is present or the
// header value is malformed; the payer address defaults to the empty
// string and never causes extraction to fail on its own.
func FromRequest(header http.Header, body []byte, defaultNetwork string) *types.PaymentProof {
	if p := fromStructuredBody(body, defaultNetwork); p != nil {
		attachPayerHeader(p, header)
		return p
	}
	return fromHeader(header, defaultNetwork)
}

func fromStructuredBody(body []byte, defaultNetwork string) *types.PaymentProof {
	if len(body) == 0 {
		return nil
	}
	var payload structuredBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	if payload.X402Version != x402Version2 || payload.Payload.TxHash == "" {
		return nil
	}
	network := payload.Accepted.Network
	if network == "" {
		network = defaultNetwork
	}
	return &types.PaymentProof{
		TxRef:        payload.Payload.TxHash,
		PayerAddress: payload.Payload.PayerAddress,
		Network:      network,
	}
}

func fromHeader(header http.Header, defaultNetwork string) *types.PaymentProof {
	raw := strings.TrimSpace(header.Get(HeaderPaymentResponse))
	if raw == "" {
		return nil
	}

	p := &types.PaymentProof{Network: defaultNetwork}
	if strings.HasPrefix(raw, "0x") && len(raw) == evmTxHashLength {
		p.TxRef = raw
	} else {
		var hp headerProof
		if err := json.Unmarshal([]byte(raw), &hp); err != nil || hp.TxHash == "" {
			return nil
		}
		p.TxRef = hp.TxHash
		if hp.ChainID != 0 {
			p.Network = fmt.Sprintf("eip155:%d", hp.ChainID)
		}
	}
	attachPayerHeader(p, header)
	return p
}

func attachPayerHeader(p *types.PaymentProof, header http.Header) {
	if p.PayerAddress == "" {
		p.PayerAddress = strings.TrimSpace(header.Get(HeaderPayerAddress))
	}
}
