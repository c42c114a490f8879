package oracle

import (
	xerrors "OpenFX-Ledger/internal/errors"
)

const (
	CodeRateNotFound      xerrors.Code = "ORACLE_RATE_NOT_FOUND"
	CodeUnexpectedCommand xerrors.Code = "ORACLE_UNEXPECTED_COMMAND"
	CodeEmptyRates        xerrors.Code = "ORACLE_EMPTY_RATES"
)

var (
	// ErrRateNotFound 表示汇率表中没有请求的币种对。
	ErrRateNotFound = xerrors.New(CodeRateNotFound, "rate not found")
	// ErrUnexpectedCommand 表示过滤视图中出现了预言机不应签署的内容。
	ErrUnexpectedCommand = xerrors.New(CodeUnexpectedCommand, "oracle received an unexpected command")
	// ErrEmptyRates 表示尝试用空集合替换汇率表。
	ErrEmptyRates = xerrors.New(CodeEmptyRates, "rate set must not be empty")
)

func init() {
	xerrors.Register(CodeRateNotFound, xerrors.Attributes{
		Message:  "rate not found",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeUnexpectedCommand, xerrors.Attributes{
		Message:  "oracle received an unexpected command",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeEmptyRates, xerrors.Attributes{
		Message:  "rate set must not be empty",
		Severity: xerrors.SeverityInfo,
	})
}
