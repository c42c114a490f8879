package oracle

import (
	"context"
	"time"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/observability/metrics"
	"OpenFX-Ledger/internal/proofs"
	"OpenFX-Ledger/internal/transport"
)

// Session protocols served by an oracle node.
const (
	ProtocolQuery = "oracle.rate.query"
	ProtocolSign  = "oracle.rate.sign"
)

// QueryRequest asks for the current rate of a pair.
type QueryRequest struct {
	Of ledger.RateOf `json:"of"`
}

// QueryResponse carries the rate fact.
type QueryResponse struct {
	Fact ledger.RateFact `json:"fact"`
}

// SignRequest carries the filtered view to countersign.
type SignRequest struct {
	View proofs.FilteredView `json:"view"`
}

// SignResponse carries the oracle's signature over the view's root.
type SignResponse struct {
	Signature proofs.Signature `json:"signature"`
}

// Handlers returns the session handlers keyed by protocol.
func (s *Service) Handlers() map[string]transport.Handler {
	return map[string]transport.Handler{
		ProtocolQuery: s.HandleQuery,
		ProtocolSign:  s.HandleSign,
	}
}

// HandleQuery serves one rate query. A missing rate fails the session so the
// caller receives ORACLE_RATE_NOT_FOUND.
func (s *Service) HandleQuery(ctx context.Context, sess transport.Session) (err error) {
	defer observe(ProtocolQuery, time.Now(), &err)
	var req QueryRequest
	if err := sess.Receive(ctx, &req); err != nil {
		return err
	}
	fact, err := s.Query(req.Of)
	if err != nil {
		return err
	}
	return sess.Send(ctx, QueryResponse{Fact: fact})
}

// HandleSign serves one countersignature request.
func (s *Service) HandleSign(ctx context.Context, sess transport.Session) (err error) {
	defer observe(ProtocolSign, time.Now(), &err)
	var req SignRequest
	if err := sess.Receive(ctx, &req); err != nil {
		return err
	}
	sig, err := s.sign(ctx, sess.Counterparty(), req.View)
	if err != nil {
		return err
	}
	return sess.Send(ctx, SignResponse{Signature: sig})
}

func observe(protocol string, started time.Time, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = string(xerrors.CodeOf(*err))
	}
	metrics.ObserveFlow(protocol, outcome, time.Since(started))
}
