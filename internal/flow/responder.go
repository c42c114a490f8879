package flow

import (
	"context"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/finality"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/proofs"
	"OpenFX-Ledger/internal/transport"
)

// TransferResponder 作为转账对端处理 wallet.transfer 会话。
type TransferResponder struct {
	runner
}

// NewTransferResponder 创建转账应答方。Services 中只用到 Self、Vault、Signer、Resolver 与 Notary。
func NewTransferResponder(svc Services, opts ...Option) *TransferResponder {
	return &TransferResponder{runner: newRunner(svc, opts)}
}

// Handle 处理一个入站转账会话。返回的错误由传输层转交给发起方。
func (r *TransferResponder) Handle(ctx context.Context, sess transport.Session) (err error) {
	tr := NewTracker(FlowTransferResponder, responderSteps)
	var result Result
	defer func() { r.finish(ctx, tr, sess.Counterparty(), result, err) }()

	var mine ledger.StateAndRef
	err = r.opts.within(ctx, func(ctx context.Context) error {
		var offer TransferOffer
		if err := sess.Receive(ctx, &offer); err != nil {
			return err
		}
		code, err := ledger.ParseCurrency(offer.Amount.Currency)
		if err != nil {
			return err
		}
		mine, err = findOwn(ctx, r.svc.Vault, r.svc.Self.Key, code)
		return err
	})
	if err != nil {
		return err
	}
	if err := tr.Advance(StepLocalSideBuilt); err != nil {
		return err
	}

	var req SignRequest
	err = r.opts.within(ctx, func(ctx context.Context) error {
		if err := sess.Send(ctx, RecordReply{State: mine}); err != nil {
			return err
		}
		return sess.Receive(ctx, &req)
	})
	if err != nil {
		return err
	}
	if err := tr.Advance(StepCounterpartySideExchanged); err != nil {
		return err
	}

	stx := req.Transition
	if err := r.checkProposal(sess.Counterparty(), mine, stx); err != nil {
		return err
	}
	sig, err := r.svc.Signer.Sign(stx.ID(), r.svc.Self.Key)
	if err != nil {
		return err
	}
	err = r.opts.within(ctx, func(ctx context.Context) error {
		return sess.Send(ctx, SignResponse{Signature: sig})
	})
	if err != nil {
		return err
	}
	stx.AddSignature(sig)
	if err := tr.Advance(StepSignatureCollected); err != nil {
		return err
	}

	var notice FinalityNotice
	err = r.opts.within(ctx, func(ctx context.Context) error {
		return sess.Receive(ctx, &notice)
	})
	if err != nil {
		return err
	}
	if err := finality.VerifyReceipt(notice.Receipt, stx.ID(), r.svc.Notary); err != nil {
		return err
	}
	result = Result{Transition: stx, Receipt: notice.Receipt}
	return tr.Advance(StepFinalized)
}

// checkProposal 校验发起方提交的状态转换，拒绝时返回 FLOW_COUNTERPARTY_REJECTED。
func (r *TransferResponder) checkProposal(initiatorName string, mine ledger.StateAndRef, stx ledger.SignedTransition) error {
	tx := stx.Tx
	initiator, err := r.svc.Resolver.WellKnownParty(initiatorName)
	if err != nil {
		return xerrors.Wrap(CodeCounterpartyRejected, err, "unknown initiator "+initiatorName)
	}
	if tx.Notary.Key != r.svc.Notary.Key {
		return xerrors.Newf(CodeCounterpartyRejected, "transition names notary %s", tx.Notary)
	}
	if err := ledger.VerifyTransition(tx); err != nil {
		return xerrors.Wrap(CodeCounterpartyRejected, err, "transition does not verify: "+xerrors.MessageOf(err))
	}
	sig, ok := stx.SignatureBy(initiator.Key)
	if !ok || !proofs.VerifySignature(sig, stx.ID(), initiator.Key) {
		return xerrors.Newf(CodeCounterpartyRejected, "missing or invalid signature from %s", initiator)
	}

	self := r.svc.Self.Key
	var owned []ledger.StateAndRef
	for _, in := range tx.Inputs {
		if in.Record.Owner.Key == self {
			owned = append(owned, in)
		}
	}
	if len(owned) != 1 || owned[0] != mine {
		return xerrors.Newf(CodeCounterpartyRejected, "transition must consume exactly the record %s", mine.Ref)
	}

	consumed := make(map[string]int64)
	produced := make(map[string]int64)
	for _, in := range owned {
		consumed[in.Record.Currency] += in.Record.Amount.Quantity
	}
	for _, out := range tx.Outputs {
		if out.Owner.Key == self {
			produced[out.Currency] += out.Amount.Quantity
		}
	}
	for code := range produced {
		if _, ok := consumed[code]; !ok {
			consumed[code] = 0
		}
	}
	for code, in := range consumed {
		if produced[code] <= in {
			return xerrors.Newf(CodeCounterpartyRejected, "%s balance would not increase", code)
		}
	}
	return nil
}
