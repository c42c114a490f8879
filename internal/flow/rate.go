package flow

import (
	"context"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/oracle"
	"OpenFX-Ledger/internal/proofs"
	"OpenFX-Ledger/internal/transport"
)

// QueryRate 向预言机查询汇率，返回的事实必须与查询的币种对一致。
func QueryRate(ctx context.Context, t transport.Transport, self string, o ledger.Party, of ledger.RateOf) (ledger.RateFact, error) {
	sess, err := t.Initiate(ctx, self, o.Name, oracle.ProtocolQuery)
	if err != nil {
		return ledger.RateFact{}, err
	}
	if err := sess.Send(ctx, oracle.QueryRequest{Of: of}); err != nil {
		return ledger.RateFact{}, err
	}
	var resp oracle.QueryResponse
	if err := sess.Receive(ctx, &resp); err != nil {
		return ledger.RateFact{}, err
	}
	if resp.Fact.Of() != of {
		return ledger.RateFact{}, xerrors.Newf(CodeProtocol, "oracle answered %s for a %s query", resp.Fact.Of(), of)
	}
	return resp.Fact, nil
}

// RequestOracleSignature 将过滤视图发送给预言机，并校验其签名覆盖视图的根。
func RequestOracleSignature(ctx context.Context, t transport.Transport, self string, o ledger.Party, view proofs.FilteredView) (proofs.Signature, error) {
	root, err := proofs.Verify(view)
	if err != nil {
		return proofs.Signature{}, err
	}
	sess, err := t.Initiate(ctx, self, o.Name, oracle.ProtocolSign)
	if err != nil {
		return proofs.Signature{}, err
	}
	if err := sess.Send(ctx, oracle.SignRequest{View: view}); err != nil {
		return proofs.Signature{}, err
	}
	var resp oracle.SignResponse
	if err := sess.Receive(ctx, &resp); err != nil {
		return proofs.Signature{}, err
	}
	if resp.Signature.By != o.Key {
		return proofs.Signature{}, xerrors.Newf(CodeProtocol, "signature returned by %s is not from oracle %s", resp.Signature.By.Short(), o)
	}
	if !proofs.VerifySignature(resp.Signature, root, o.Key) {
		return proofs.Signature{}, xerrors.Newf(proofs.CodeInvalidSignature, "oracle %s signature does not cover %s", o, root.Hex())
	}
	return resp.Signature, nil
}
