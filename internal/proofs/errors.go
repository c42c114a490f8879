package proofs

import (
	xerrors "OpenFX-Ledger/internal/errors"
)

const (
	CodeIntegrity           xerrors.Code = "PROOF_INTEGRITY"
	CodeHiddenSignerCommand xerrors.Code = "PROOF_HIDDEN_SIGNER_COMMAND"
	CodeInvalidSignature    xerrors.Code = "PROOF_INVALID_SIGNATURE"
	CodeInvalidKey          xerrors.Code = "PROOF_INVALID_KEY"
	CodeUnknownKey          xerrors.Code = "PROOF_UNKNOWN_KEY"
)

var (
	// ErrIntegrity marks a filtered view whose leaves do not hash to the claimed root.
	ErrIntegrity = xerrors.New(CodeIntegrity, "filtered view failed integrity verification")
	// ErrHiddenSignerCommand marks a command that requires a key but was not revealed to its holder.
	ErrHiddenSignerCommand = xerrors.New(CodeHiddenSignerCommand, "command requiring this signer is hidden")
	// ErrInvalidSignature marks a signature that does not verify over the expected root.
	ErrInvalidSignature = xerrors.New(CodeInvalidSignature, "signature does not verify")
	// ErrUnknownKey is returned when the keystore does not hold the requested key.
	ErrUnknownKey = xerrors.New(CodeUnknownKey, "key not held by keystore")
)

func init() {
	xerrors.Register(CodeIntegrity, xerrors.Attributes{
		Message:  "filtered view failed integrity verification",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
		Security: true,
	})
	xerrors.Register(CodeHiddenSignerCommand, xerrors.Attributes{
		Message:  "command requiring this signer is hidden",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
		Security: true,
	})
	xerrors.Register(CodeInvalidSignature, xerrors.Attributes{
		Message:  "signature does not verify",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
		Security: true,
	})
	xerrors.Register(CodeInvalidKey, xerrors.Attributes{
		Message:  "malformed public key",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeUnknownKey, xerrors.Attributes{
		Message:  "key not held by keystore",
		Severity: xerrors.SeverityWarning,
	})
}

func integrityf(format string, args ...any) error {
	return xerrors.Newf(CodeIntegrity, format, args...)
}

func hiddenf(format string, args ...any) error {
	return xerrors.Newf(CodeHiddenSignerCommand, format, args...)
}
