package flow

import (
	"context"
	"log/slog"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/proofs"
	"OpenFX-Ledger/internal/transport"
	"OpenFX-Ledger/pkg/logger"
)

// TransferRequest 描述一次转账。
type TransferRequest struct {
	Counterparty string `json:"counterparty"`
	Amount       string `json:"amount"`
	// QuoteCurrency 非空时附带预言机签名的汇率命令，为空时使用配置的默认值。
	QuoteCurrency string `json:"quote_currency,omitempty"`
}

// TransferCoordinator 在本方与对端之间转移同币种余额。
type TransferCoordinator struct {
	runner
}

// NewTransferCoordinator 创建转账协调器。
func NewTransferCoordinator(svc Services, opts ...Option) *TransferCoordinator {
	return &TransferCoordinator{runner: newRunner(svc, opts)}
}

// transferRun 保存一次转账运行的中间状态。
type transferRun struct {
	*TransferCoordinator
	tr           *Tracker
	counterparty ledger.Party
	amount       ledger.Amount
	own          ledger.StateAndRef
	theirs       ledger.StateAndRef
	oracle       ledger.Party
	rate         *ledger.Command
	sess         transport.Session
}

// Run 执行转账。任一步骤失败时会话以同一错误码通知对端。
func (c *TransferCoordinator) Run(ctx context.Context, req TransferRequest) (result Result, err error) {
	run := &transferRun{TransferCoordinator: c, tr: NewTracker(FlowTransfer, transferSteps)}
	defer func() {
		if err != nil && run.sess != nil {
			if failErr := run.sess.Fail(context.WithoutCancel(ctx), err); failErr != nil {
				run.tr.log.Debug("notify counterparty failed", slog.Any("error", failErr))
			}
		}
		c.finish(ctx, run.tr, req.Counterparty, result, err)
	}()

	stages := []struct {
		step Step
		fn   func(context.Context, TransferRequest) error
	}{
		{StepInputsParsed, run.parseInputs},
		{StepLocalSideBuilt, run.buildLocalSide},
		{StepCounterpartySideExchanged, run.exchangeCounterpartySide},
		{StepRateAttested, run.attestRate},
	}
	for _, stage := range stages {
		if err := stage.fn(ctx, req); err != nil {
			return Result{}, err
		}
		if err := run.tr.Advance(stage.step); err != nil {
			return Result{}, err
		}
	}

	tx, err := run.assemble()
	if err != nil {
		return Result{}, err
	}
	if err := run.tr.Advance(StepTransactionAssembled); err != nil {
		return Result{}, err
	}

	stx, err := run.collectSignatures(ctx, tx)
	if err != nil {
		return Result{}, err
	}
	if err := run.tr.Advance(StepSignatureCollected); err != nil {
		return Result{}, err
	}

	receipt, err := c.finalize(ctx, stx)
	if err != nil {
		return Result{}, err
	}
	result = Result{Transition: stx, Receipt: receipt}
	if err := c.opts.within(ctx, func(ctx context.Context) error {
		return run.sess.Send(ctx, FinalityNotice{Receipt: receipt})
	}); err != nil {
		// 交易已提交，对端未收到回执不影响结果。
		run.tr.log.Warn("forward receipt failed", slog.Any("error", err))
	}
	if err := run.tr.Advance(StepFinalized); err != nil {
		return result, err
	}
	return result, nil
}

func (r *transferRun) parseInputs(_ context.Context, req TransferRequest) error {
	amt, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return err
	}
	if amt.Quantity <= 0 {
		return xerrors.Newf(ledger.CodeAmountParse, "transfer amount %s must be positive", amt)
	}
	counterparty, err := r.svc.Resolver.WellKnownParty(req.Counterparty)
	if err != nil {
		return err
	}
	if counterparty.Key == r.svc.Self.Key {
		return xerrors.New(xerrors.CodeInvalidArgument, "cannot transfer to self")
	}
	r.amount = amt
	r.counterparty = counterparty
	return nil
}

func (r *transferRun) buildLocalSide(ctx context.Context, _ TransferRequest) error {
	own, err := r.findOwn(ctx, r.amount.Currency)
	if err != nil {
		return err
	}
	r.own = own
	return nil
}

func (r *transferRun) exchangeCounterpartySide(ctx context.Context, _ TransferRequest) error {
	return r.opts.within(ctx, func(ctx context.Context) error {
		sess, err := r.svc.Transport.Initiate(ctx, r.svc.Self.Name, r.counterparty.Name, ProtocolTransfer)
		if err != nil {
			return err
		}
		r.sess = sess
		if err := sess.Send(ctx, TransferOffer{Amount: r.amount}); err != nil {
			return err
		}
		var reply RecordReply
		if err := sess.Receive(ctx, &reply); err != nil {
			return err
		}
		record := reply.State.Record
		if record.Owner.Key != r.counterparty.Key || record.Currency != r.amount.Currency || record.Amount.Currency != r.amount.Currency {
			return xerrors.Newf(CodeProtocol, "%s answered with a record it does not own in %s", r.counterparty, r.amount.Currency)
		}
		r.theirs = reply.State
		return nil
	})
}

func (r *transferRun) attestRate(ctx context.Context, req TransferRequest) error {
	quote := req.QuoteCurrency
	if quote == "" {
		quote = r.opts.quoteCurrency
	}
	if quote == "" {
		return nil
	}
	quote, err := ledger.ParseCurrency(quote)
	if err != nil {
		return err
	}
	if quote == r.amount.Currency {
		return nil
	}
	if r.svc.Oracle == "" {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "quote currency %s requested but no oracle is configured", quote)
	}
	o, err := r.svc.Resolver.WellKnownParty(r.svc.Oracle)
	if err != nil {
		return err
	}
	var fact ledger.RateFact
	err = r.opts.within(ctx, func(ctx context.Context) error {
		var err error
		fact, err = QueryRate(ctx, r.svc.Transport, r.svc.Self.Name, o, ledger.RateOf{From: r.amount.Currency, To: quote})
		return err
	})
	if err != nil {
		return err
	}
	cmd := ledger.NewCommand(ledger.Rate{Fact: fact}, o.Key)
	r.oracle = o
	r.rate = &cmd
	return nil
}

// assemble 构建状态转换并在任何签名之前完成校验。
func (r *transferRun) assemble() (ledger.Transition, error) {
	tx, err := r.newTransition()
	if err != nil {
		return ledger.Transition{}, err
	}
	given := r.amount.Quantity
	tx.Inputs = []ledger.StateAndRef{r.own, r.theirs}
	tx.Outputs = []ledger.BalanceRecord{
		r.own.Record.WithQuantity(r.own.Record.Amount.Quantity - given),
		r.theirs.Record.WithQuantity(r.theirs.Record.Amount.Quantity + given),
	}
	tx.Commands = []ledger.Command{ledger.NewCommand(ledger.Transfer{}, r.svc.Self.Key, r.counterparty.Key)}
	if r.rate != nil {
		tx.Commands = append(tx.Commands, *r.rate)
	}
	if err := ledger.VerifyTransition(tx); err != nil {
		return ledger.Transition{}, err
	}
	return tx, nil
}

func (r *transferRun) collectSignatures(ctx context.Context, tx ledger.Transition) (ledger.SignedTransition, error) {
	stx := ledger.SignedTransition{Tx: tx}
	if err := signLocally(r.svc.Signer, &stx, r.svc.Self.Key); err != nil {
		return stx, err
	}

	if r.rate != nil {
		view := proofs.Filter(tx.FullView(), ledger.OracleFilter(r.oracle.Key))
		err := r.opts.within(ctx, func(ctx context.Context) error {
			sig, err := RequestOracleSignature(ctx, r.svc.Transport, r.svc.Self.Name, r.oracle, view)
			if err != nil {
				return err
			}
			stx.AddSignature(sig)
			return nil
		})
		if err != nil {
			return stx, err
		}
	}

	err := r.opts.within(ctx, func(ctx context.Context) error {
		if err := r.sess.Send(ctx, SignRequest{Transition: stx}); err != nil {
			return err
		}
		var resp SignResponse
		if err := r.sess.Receive(ctx, &resp); err != nil {
			return err
		}
		if resp.Signature.By != r.counterparty.Key {
			return xerrors.Newf(CodeProtocol, "signature returned by %s is not from %s", resp.Signature.By.Short(), r.counterparty)
		}
		if !proofs.VerifySignature(resp.Signature, stx.ID(), r.counterparty.Key) {
			return xerrors.Newf(proofs.CodeInvalidSignature, "%s signature does not cover %s", r.counterparty, stx.ID().Hex())
		}
		stx.AddSignature(resp.Signature)
		return nil
	})
	if err != nil {
		return stx, err
	}
	logger.L().Debug("signatures collected",
		slog.String("transition_id", stx.ID().Hex()),
		slog.Int("signatures", len(stx.Signatures)))
	return stx, nil
}
