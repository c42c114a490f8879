package finality

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/observability/alerting"
	"OpenFX-Ledger/internal/observability/metrics"
	"OpenFX-Ledger/internal/proofs"
	"OpenFX-Ledger/internal/storage/mysql"
	"OpenFX-Ledger/pkg/logger"
)

// Signer produces signatures with keys the node holds.
type Signer interface {
	Sign(root common.Hash, key proofs.PublicKey) (proofs.Signature, error)
}

// Notary checks a fully signed transition and commits it to the ledger
// store exactly once.
type Notary struct {
	self   ledger.Party
	signer Signer
	store  mysql.LedgerStore
	alerts alerting.Dispatcher
	now    func() time.Time
	log    *slog.Logger
}

// NewNotary creates a notary acting as self. alerts may be nil.
func NewNotary(self ledger.Party, signer Signer, store mysql.LedgerStore, alerts alerting.Dispatcher) *Notary {
	return &Notary{
		self:   self,
		signer: signer,
		store:  store,
		alerts: alerts,
		now:    time.Now,
		log:    logger.Named("notary").With(slog.String("party", self.Name)),
	}
}

// Party returns the notary's identity.
func (n *Notary) Party() ledger.Party { return n.self }

// Submit validates stx and commits it. On success the returned receipt
// carries the notary's signature over the transition id.
func (n *Notary) Submit(ctx context.Context, stx ledger.SignedTransition) (ledger.Receipt, error) {
	started := time.Now()
	receipt, err := n.submit(ctx, stx)
	outcome := "ok"
	if err != nil {
		outcome = string(xerrors.CodeOf(err))
		n.log.Warn("notarisation refused",
			slog.String("transition_id", stx.ID().Hex()),
			slog.String("code", outcome),
			slog.Any("error", err))
		alerting.Report(ctx, n.alerts, err, ProtocolSubmit, n.self.Name, "", stx.ID().Hex())
	} else {
		logger.Audit().Info("transition committed",
			slog.String("notary", n.self.Name),
			slog.String("transition_id", receipt.TxID.Hex()),
			slog.Int("inputs", len(stx.Tx.Inputs)),
			slog.Int("outputs", len(stx.Tx.Outputs)))
	}
	metrics.ObserveFlow(ProtocolSubmit, outcome, time.Since(started))
	return receipt, err
}

func (n *Notary) submit(ctx context.Context, stx ledger.SignedTransition) (ledger.Receipt, error) {
	tx := stx.Tx
	if tx.Notary.Key != n.self.Key {
		return ledger.Receipt{}, xerrors.Newf(CodeRejected, "transition names notary %s", tx.Notary)
	}
	now := n.now().UTC()
	if tx.TimeWindow != nil && !tx.TimeWindow.Contains(now) {
		return ledger.Receipt{}, xerrors.Newf(CodeRejected, "time window does not contain %s", now.Format(time.RFC3339))
	}

	root := stx.ID()
	if bad := stx.InvalidSignatures(root); len(bad) > 0 {
		return ledger.Receipt{}, xerrors.Newf(proofs.CodeInvalidSignature, "invalid signature by %s", shortKeys(bad))
	}
	if missing := stx.MissingSigners(root); len(missing) > 0 {
		return ledger.Receipt{}, xerrors.Newf(CodeMissingSignature, "missing signatures from %s", shortKeys(missing))
	}
	if err := ledger.VerifyTransition(tx); err != nil {
		return ledger.Receipt{}, xerrors.Wrap(CodeRejected, err, "transition does not verify: "+xerrors.MessageOf(err))
	}
	if err := n.checkInputs(ctx, tx.Inputs); err != nil {
		return ledger.Receipt{}, err
	}

	sig, err := n.signer.Sign(root, n.self.Key)
	if err != nil {
		return ledger.Receipt{}, err
	}
	receipt := ledger.Receipt{TxID: root, Notary: n.self, NotarySignature: sig, CommittedAt: now}
	if err := n.store.Commit(ctx, stx, receipt); err != nil {
		return ledger.Receipt{}, translateStoreError(err)
	}
	return receipt, nil
}

func (n *Notary) checkInputs(ctx context.Context, inputs []ledger.StateAndRef) error {
	seen := make(map[ledger.StateRef]struct{}, len(inputs))
	for _, in := range inputs {
		if _, dup := seen[in.Ref]; dup {
			return xerrors.Newf(CodeDoubleSpend, "input %s is consumed twice", in.Ref)
		}
		seen[in.Ref] = struct{}{}
		stored, err := n.store.Unconsumed(ctx, in.Ref)
		if err != nil {
			return translateStoreError(err)
		}
		if stored.Record != in.Record {
			return xerrors.Newf(CodeRejected, "input %s does not match the ledger", in.Ref)
		}
	}
	return nil
}

func translateStoreError(err error) error {
	switch xerrors.CodeOf(err) {
	case mysql.CodeInputConsumed:
		return xerrors.Wrap(CodeDoubleSpend, err, xerrors.MessageOf(err))
	case mysql.CodeDuplicateTransition:
		return xerrors.Wrap(CodeAlreadyCommitted, err, xerrors.MessageOf(err))
	case xerrors.CodeNotFound:
		return xerrors.Wrap(CodeRejected, err, "unknown input: "+xerrors.MessageOf(err))
	default:
		return err
	}
}

func shortKeys(keys []proofs.PublicKey) string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Short()
	}
	return strings.Join(out, ", ")
}
