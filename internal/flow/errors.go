package flow

import (
	xerrors "OpenFX-Ledger/internal/errors"
)

const (
	CodeInsufficientRecord   xerrors.Code = "FLOW_INSUFFICIENT_RECORD"
	CodeDuplicateCurrency    xerrors.Code = "FLOW_DUPLICATE_CURRENCY"
	CodeProtocol             xerrors.Code = "FLOW_PROTOCOL"
	CodeCounterpartyRejected xerrors.Code = "FLOW_COUNTERPARTY_REJECTED"
	CodeInvalidStep          xerrors.Code = "FLOW_INVALID_STEP"
)

var (
	// ErrInsufficientRecord 表示本方在该币种下没有钱包记录。
	ErrInsufficientRecord = xerrors.New(CodeInsufficientRecord, "wallet with this currency does not exist")
	// ErrDuplicateCurrency 表示同一币种的钱包已存在。
	ErrDuplicateCurrency = xerrors.New(CodeDuplicateCurrency, "There can be only one wallet per currency")
	// ErrProtocol 表示对端返回了不符合协议的数据。
	ErrProtocol = xerrors.New(CodeProtocol, "counterparty violated the protocol")
	// ErrCounterpartyRejected 表示应答方拒绝签署。
	ErrCounterpartyRejected = xerrors.New(CodeCounterpartyRejected, "counterparty refused to sign")
)

func init() {
	xerrors.Register(CodeInsufficientRecord, xerrors.Attributes{
		Message:  "wallet with this currency does not exist",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeDuplicateCurrency, xerrors.Attributes{
		Message:  "There can be only one wallet per currency",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeProtocol, xerrors.Attributes{
		Message:  "counterparty violated the protocol",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeCounterpartyRejected, xerrors.Attributes{
		Message:  "counterparty refused to sign",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeInvalidStep, xerrors.Attributes{
		Message:  "flow step out of order",
		Severity: xerrors.SeverityCritical,
	})
}
