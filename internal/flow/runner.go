package flow

import (
	"context"
	"log/slog"

	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/observability/alerting"
	"OpenFX-Ledger/internal/proofs"
	"OpenFX-Ledger/pkg/logger"
)

// runner 是各协调器共享的执行骨架。
type runner struct {
	svc  Services
	opts settings
}

func newRunner(svc Services, opts []Option) runner {
	return runner{svc: svc, opts: newSettings(opts)}
}

// finish 记录运行结果，失败时按错误码决定是否告警。
func (r runner) finish(ctx context.Context, tr *Tracker, counterparty string, result Result, err error) {
	tr.Finish(err)
	txID := ""
	if result.Receipt.TxID != (ledger.Receipt{}).TxID {
		txID = result.Receipt.TxID.Hex()
	}
	if err != nil {
		alerting.Report(ctx, r.opts.alerts, err, tr.flow, r.svc.Self.Name, counterparty, txID)
		return
	}
	logger.Audit().Info("flow completed",
		slog.String("flow", tr.flow),
		slog.String("run_id", tr.RunID()),
		slog.String("party", r.svc.Self.Name),
		slog.String("counterparty", counterparty),
		slog.String("transition_id", txID))
}

func (r runner) newTransition() (ledger.Transition, error) {
	salt, err := proofs.NewSalt()
	if err != nil {
		return ledger.Transition{}, err
	}
	return ledger.Transition{Notary: r.svc.Notary, PrivacySalt: salt}, nil
}

// commitLocal 校验、签名并提交只需本方签名的状态转换。
func (r runner) commitLocal(ctx context.Context, tr *Tracker, tx ledger.Transition) (Result, error) {
	if err := ledger.VerifyTransition(tx); err != nil {
		return Result{}, err
	}
	if err := tr.Advance(StepTransactionAssembled); err != nil {
		return Result{}, err
	}

	stx := ledger.SignedTransition{Tx: tx}
	if err := signLocally(r.svc.Signer, &stx, r.svc.Self.Key); err != nil {
		return Result{}, err
	}
	if err := tr.Advance(StepSignatureCollected); err != nil {
		return Result{}, err
	}

	receipt, err := r.finalize(ctx, stx)
	if err != nil {
		return Result{}, err
	}
	if err := tr.Advance(StepFinalized); err != nil {
		return Result{}, err
	}
	return Result{Transition: stx, Receipt: receipt}, nil
}

func (r runner) finalize(ctx context.Context, stx ledger.SignedTransition) (ledger.Receipt, error) {
	var receipt ledger.Receipt
	err := r.opts.within(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = r.svc.Finalizer.Submit(ctx, stx)
		return err
	})
	return receipt, err
}

func (r runner) findOwn(ctx context.Context, currency string) (ledger.StateAndRef, error) {
	var state ledger.StateAndRef
	err := r.opts.within(ctx, func(ctx context.Context) error {
		var err error
		state, err = findOwn(ctx, r.svc.Vault, r.svc.Self.Key, currency)
		return err
	})
	return state, err
}
