package finality

import (
	xerrors "OpenFX-Ledger/internal/errors"
)

const (
	CodeDoubleSpend      xerrors.Code = "FINALITY_DOUBLE_SPEND"
	CodeMissingSignature xerrors.Code = "FINALITY_MISSING_SIGNATURE"
	CodeAlreadyCommitted xerrors.Code = "FINALITY_ALREADY_COMMITTED"
	CodeRejected         xerrors.Code = "FINALITY_REJECTED"
)

var (
	// ErrDoubleSpend is returned when an input has already been consumed.
	ErrDoubleSpend = xerrors.New(CodeDoubleSpend, "input already consumed")
	// ErrMissingSignature is returned when a required signer has not signed.
	ErrMissingSignature = xerrors.New(CodeMissingSignature, "required signature missing")
	// ErrAlreadyCommitted is returned when the transition was committed before.
	ErrAlreadyCommitted = xerrors.New(CodeAlreadyCommitted, "transition already committed")
	// ErrRejected is returned when the notary refuses the transition.
	ErrRejected = xerrors.New(CodeRejected, "transition rejected by notary")
)

func init() {
	xerrors.Register(CodeDoubleSpend, xerrors.Attributes{
		Message:  "input already consumed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeMissingSignature, xerrors.Attributes{
		Message:  "required signature missing",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeAlreadyCommitted, xerrors.Attributes{
		Message:  "transition already committed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRejected, xerrors.Attributes{
		Message:  "transition rejected by notary",
		Severity: xerrors.SeverityWarning,
	})
}
