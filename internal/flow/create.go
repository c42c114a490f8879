package flow

import (
	"context"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
)

// CreateCoordinator 为本方开立一个新币种的钱包。
type CreateCoordinator struct {
	runner
}

// NewCreateCoordinator 创建钱包开立协调器。
func NewCreateCoordinator(svc Services, opts ...Option) *CreateCoordinator {
	return &CreateCoordinator{runner: newRunner(svc, opts)}
}

// Run 以 amount（例如 "100 EUR"）作为初始余额开立钱包。
// 同一币种已有钱包时返回 FLOW_DUPLICATE_CURRENCY；该检查与提交之间不加锁。
func (c *CreateCoordinator) Run(ctx context.Context, amount string) (result Result, err error) {
	tr := NewTracker(FlowCreate, localSteps)
	defer func() { c.finish(ctx, tr, "", result, err) }()

	amt, err := ledger.ParseAmount(amount)
	if err != nil {
		return Result{}, err
	}
	if err := tr.Advance(StepInputsParsed); err != nil {
		return Result{}, err
	}

	_, err = c.findOwn(ctx, amt.Currency)
	switch {
	case err == nil:
		return Result{}, xerrors.Newf(CodeDuplicateCurrency, "There can be only one wallet per currency (%s)", amt.Currency)
	case xerrors.CodeOf(err) != CodeInsufficientRecord:
		return Result{}, err
	}
	if err := tr.Advance(StepLocalSideBuilt); err != nil {
		return Result{}, err
	}

	tx, err := c.newTransition()
	if err != nil {
		return Result{}, err
	}
	tx.Outputs = []ledger.BalanceRecord{ledger.NewBalanceRecord(c.svc.Self, amt)}
	tx.Commands = []ledger.Command{ledger.NewCommand(ledger.Create{}, c.svc.Self.Key)}
	return c.commitLocal(ctx, tr, tx)
}
