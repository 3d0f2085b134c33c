// Package verification holds the on-chain verification seam for submitted
// payment proofs.
//
// Settlement today trusts submitted proofs: StubVerifier accepts every
// well-formed transaction reference, which is the behavior the platform
// ships with. The Verifier interface exists so real receipt inspection
// (RPCVerifier) can replace the stub without reshaping the resource
// handlers.
package verification

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	settletypes "github.com/postera-labs/settle/types"
)

// Result reports the outcome of verifying one proof.
type Result struct {
	Valid         bool   `json:"valid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// Verifier checks a submitted proof against the payment it claims to
// settle.
type Verifier interface {
	Verify(ctx context.Context, proof *settletypes.PaymentProof) (*Result, error)
}

// DuplicateChecker reports whether a transaction reference was already
// consumed by a prior receipt.
type DuplicateChecker interface {
	IsDuplicate(ctx context.Context, txRef string) (bool, error)
}

var evmTxHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// StubVerifier accepts any proof carrying a well-formed EVM transaction
// hash without touching the chain.
type StubVerifier struct{}

func (StubVerifier) Verify(_ context.Context, proof *settletypes.PaymentProof) (*Result, error) {
	if proof == nil || !evmTxHashPattern.MatchString(proof.TxRef) {
		return &Result{Valid: false, InvalidReason: "malformed transaction reference"}, nil
	}
	return &Result{Valid: true, Payer: proof.PayerAddress}, nil
}

// NoopDuplicateChecker never reports a duplicate. Receipt-level transaction
// reference deduplication is a known gap; the checker seam is where it
// plugs in.
type NoopDuplicateChecker struct{}

func (NoopDuplicateChecker) IsDuplicate(context.Context, string) (bool, error) {
	return false, nil
}

// RPCVerifier verifies proofs against an EVM node: the referenced
// transaction must exist and have a successful receipt.
type RPCVerifier struct {
	client *ethclient.Client
}

// NewRPCVerifier dials the given RPC endpoint.
func NewRPCVerifier(rpcURL string) (*RPCVerifier, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc endpoint: %w", err)
	}
	return &RPCVerifier{client: client}, nil
}

func (v *RPCVerifier) Verify(ctx context.Context, proof *settletypes.PaymentProof) (*Result, error) {
	if proof == nil || !evmTxHashPattern.MatchString(proof.TxRef) {
		return &Result{Valid: false, InvalidReason: "malformed transaction reference"}, nil
	}
	receipt, err := v.client.TransactionReceipt(ctx, common.HexToHash(proof.TxRef))
	if err != nil {
		return &Result{Valid: false, InvalidReason: fmt.Sprintf("transaction not found: %v", err)}, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return &Result{Valid: false, InvalidReason: "transaction reverted"}, nil
	}
	return &Result{Valid: true, Payer: proof.PayerAddress}, nil
}

// Close releases the underlying RPC connection.
func (v *RPCVerifier) Close() {
	v.client.Close()
}
