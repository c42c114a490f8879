package oracle

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/observability/alerting"
	"OpenFX-Ledger/internal/proofs"
	"OpenFX-Ledger/pkg/logger"
)

// Signer produces signatures with keys the node holds.
type Signer interface {
	Sign(root common.Hash, key proofs.PublicKey) (proofs.Signature, error)
}

// Service answers rate queries and countersigns transitions whose revealed
// rate commands match the table.
type Service struct {
	self   ledger.Party
	signer Signer
	table  *RateTable
	alerts alerting.Dispatcher
	log    *slog.Logger
}

// NewService creates an oracle acting as self. alerts may be nil.
func NewService(self ledger.Party, signer Signer, table *RateTable, alerts alerting.Dispatcher) *Service {
	if table == nil {
		table = NewRateTable(DefaultRates())
	}
	return &Service{
		self:   self,
		signer: signer,
		table:  table,
		alerts: alerts,
		log:    logger.Named("oracle").With(slog.String("party", self.Name)),
	}
}

// Party returns the identity the oracle signs as.
func (s *Service) Party() ledger.Party { return s.self }

// Query returns the current rate for of.
func (s *Service) Query(of ledger.RateOf) (ledger.RateFact, error) {
	fact, ok := s.table.Get(of)
	if !ok {
		return ledger.RateFact{}, xerrors.Newf(CodeRateNotFound, "no rate for %s", of)
	}
	return fact, nil
}

// Rates returns a snapshot of the rate table.
func (s *Service) Rates() []ledger.RateFact { return s.table.Snapshot() }

// SetRates replaces the rate table.
func (s *Service) SetRates(facts []ledger.RateFact) error {
	if err := s.table.Replace(facts); err != nil {
		return err
	}
	logger.Audit().Info("oracle rates replaced", slog.String("party", s.self.Name), slog.Int("count", len(facts)))
	return nil
}

// Sign countersigns the transition behind view. The view must verify, every
// revealed command must be a rate command naming this oracle whose fact
// matches the table, and no command requiring this oracle may be hidden.
func (s *Service) Sign(ctx context.Context, view proofs.FilteredView) (proofs.Signature, error) {
	return s.sign(ctx, "", view)
}

func (s *Service) sign(ctx context.Context, peer string, view proofs.FilteredView) (proofs.Signature, error) {
	sig, err := s.checkAndSign(view)
	if err != nil {
		s.reject(ctx, peer, view.Root, err)
		return proofs.Signature{}, err
	}
	logger.Audit().Info("oracle signed transition",
		slog.String("party", s.self.Name),
		slog.String("counterparty", peer),
		slog.String("transition_id", view.Root.Hex()))
	return sig, nil
}

func (s *Service) checkAndSign(view proofs.FilteredView) (proofs.Signature, error) {
	root, err := proofs.Verify(view)
	if err != nil {
		return proofs.Signature{}, err
	}
	if err := s.checkRevealed(view); err != nil {
		return proofs.Signature{}, err
	}
	if err := proofs.CheckLeafVisibility(view, s.self.Key); err != nil {
		return proofs.Signature{}, err
	}
	return s.signer.Sign(root, s.self.Key)
}

func (s *Service) checkRevealed(view proofs.FilteredView) error {
	signers := view.Group(proofs.GroupSigners)
	revealed := 0
	for _, leaf := range view.Leaves {
		if !leaf.Revealed || leaf.Group == proofs.GroupSigners {
			continue
		}
		if leaf.Group != proofs.GroupCommands {
			return xerrors.Newf(CodeUnexpectedCommand, "oracle was shown %s leaf %d", leaf.Group, leaf.Index)
		}
		revealed++
		cmd, err := ledger.DecodeCommand(leaf.Payload)
		if err != nil {
			return xerrors.Wrap(CodeUnexpectedCommand, err, "revealed command cannot be decoded")
		}
		rate, ok := cmd.Value.(ledger.Rate)
		if !ok {
			return xerrors.Newf(CodeUnexpectedCommand, "command %d is %s, oracle signs only rate commands", leaf.Index, cmd.Value.Kind())
		}
		if !cmd.HasSigner(s.self.Key) {
			return xerrors.Newf(CodeUnexpectedCommand, "command %d does not name the oracle as signer", leaf.Index)
		}
		if err := matchSigners(signers, leaf.Index, cmd.Signers); err != nil {
			return err
		}
		known, ok := s.table.Get(rate.Fact.Of())
		if !ok || !known.Equal(rate.Fact) {
			return xerrors.Newf(CodeUnexpectedCommand, "rate %s does not match the oracle's table", rate.Fact)
		}
	}
	if revealed == 0 {
		return xerrors.New(CodeUnexpectedCommand, "no rate command revealed to the oracle")
	}
	return nil
}

// matchSigners checks that signers leaf i lists exactly the keys of command i.
func matchSigners(signers []proofs.FilteredLeaf, i int, want []proofs.PublicKey) error {
	if i >= len(signers) || !signers[i].Revealed {
		return xerrors.Newf(proofs.CodeHiddenSignerCommand, "signer list %d is not revealed", i)
	}
	got, err := proofs.DecodeSigners(signers[i].Payload)
	if err != nil {
		return err
	}
	if len(got) != len(want) {
		return xerrors.Newf(proofs.CodeIntegrity, "signer list %d disagrees with command %d", i, i)
	}
	for j := range got {
		if got[j] != want[j] {
			return xerrors.Newf(proofs.CodeIntegrity, "signer list %d disagrees with command %d", i, i)
		}
	}
	return nil
}

func (s *Service) reject(ctx context.Context, peer string, root common.Hash, err error) {
	attrs := []any{
		slog.String("counterparty", peer),
		slog.String("transition_id", root.Hex()),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.Any("error", err),
	}
	if xerrors.IsSecurity(err) {
		logger.Security().Warn("oracle refused a tampered view", attrs...)
	} else {
		s.log.Info("oracle refused to sign", attrs...)
	}
	alerting.Report(ctx, s.alerts, err, ProtocolSign, s.self.Name, peer, root.Hex())
}
