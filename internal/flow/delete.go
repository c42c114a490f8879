package flow

import (
	"context"

	"OpenFX-Ledger/internal/ledger"
)

// DeleteCoordinator 注销本方余额为零的钱包。
type DeleteCoordinator struct {
	runner
}

// NewDeleteCoordinator 创建钱包注销协调器。
func NewDeleteCoordinator(svc Services, opts ...Option) *DeleteCoordinator {
	return &DeleteCoordinator{runner: newRunner(svc, opts)}
}

// Run 注销 currency 币种的钱包。余额不为零时返回 LEDGER_NONZERO_BALANCE。
func (d *DeleteCoordinator) Run(ctx context.Context, currency string) (result Result, err error) {
	tr := NewTracker(FlowDelete, localSteps)
	defer func() { d.finish(ctx, tr, "", result, err) }()

	code, err := ledger.ParseCurrency(currency)
	if err != nil {
		return Result{}, err
	}
	if err := tr.Advance(StepInputsParsed); err != nil {
		return Result{}, err
	}

	own, err := d.findOwn(ctx, code)
	if err != nil {
		return Result{}, err
	}
	if err := tr.Advance(StepLocalSideBuilt); err != nil {
		return Result{}, err
	}

	tx, err := d.newTransition()
	if err != nil {
		return Result{}, err
	}
	tx.Inputs = []ledger.StateAndRef{own}
	tx.Commands = []ledger.Command{ledger.NewCommand(ledger.Delete{}, d.svc.Self.Key)}
	return d.commitLocal(ctx, tr, tx)
}
