package finality

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/proofs"
	"OpenFX-Ledger/internal/transport"
)

// ProtocolSubmit is the session protocol served by a notary node.
const ProtocolSubmit = "finality.submit"

// SubmitRequest carries a fully signed transition.
type SubmitRequest struct {
	Transition ledger.SignedTransition `json:"transition"`
}

// SubmitResponse carries the commit receipt.
type SubmitResponse struct {
	Receipt ledger.Receipt `json:"receipt"`
}

// Handle serves one submission over a session.
func (n *Notary) Handle(ctx context.Context, sess transport.Session) error {
	var req SubmitRequest
	if err := sess.Receive(ctx, &req); err != nil {
		return err
	}
	receipt, err := n.Submit(ctx, req.Transition)
	if err != nil {
		return err
	}
	return sess.Send(ctx, SubmitResponse{Receipt: receipt})
}

// Client submits transitions to a remote notary. It satisfies the same
// Submit contract as Notary.
type Client struct {
	transport transport.Transport
	self      string
	notary    ledger.Party
}

// NewClient creates a client that submits as self to notary.
func NewClient(t transport.Transport, self string, notary ledger.Party) *Client {
	return &Client{transport: t, self: self, notary: notary}
}

// Submit sends stx to the notary and checks the receipt it returns.
func (c *Client) Submit(ctx context.Context, stx ledger.SignedTransition) (ledger.Receipt, error) {
	sess, err := c.transport.Initiate(ctx, c.self, c.notary.Name, ProtocolSubmit)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if err := sess.Send(ctx, SubmitRequest{Transition: stx}); err != nil {
		return ledger.Receipt{}, err
	}
	var resp SubmitResponse
	if err := sess.Receive(ctx, &resp); err != nil {
		return ledger.Receipt{}, err
	}
	if err := VerifyReceipt(resp.Receipt, stx.ID(), c.notary); err != nil {
		return ledger.Receipt{}, err
	}
	return resp.Receipt, nil
}

// VerifyReceipt checks that receipt commits id and is signed by notary.
func VerifyReceipt(receipt ledger.Receipt, id common.Hash, notary ledger.Party) error {
	if receipt.TxID != id {
		return xerrors.Newf(CodeRejected, "receipt is for %s, expected %s", receipt.TxID.Hex(), id.Hex())
	}
	if !proofs.VerifySignature(receipt.NotarySignature, id, notary.Key) {
		return xerrors.Newf(proofs.CodeInvalidSignature, "receipt is not signed by notary %s", notary)
	}
	return nil
}
