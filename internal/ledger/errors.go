package ledger

import (
	xerrors "OpenFX-Ledger/internal/errors"
)

// 校验规则失败对应的错误码，每一种违规都有独立的错误码，便于调用方区分。
const (
	CodeEmptyInput       xerrors.Code = "LEDGER_EMPTY_INPUT"
	CodeEmptyOutput      xerrors.Code = "LEDGER_EMPTY_OUTPUT"
	CodeUnexpectedInput  xerrors.Code = "LEDGER_UNEXPECTED_INPUT"
	CodeUnexpectedOutput xerrors.Code = "LEDGER_UNEXPECTED_OUTPUT"
	CodeWrongInputCount  xerrors.Code = "LEDGER_WRONG_INPUT_COUNT"
	CodeWrongOutputCount xerrors.Code = "LEDGER_WRONG_OUTPUT_COUNT"
	CodeNegativeQuantity xerrors.Code = "LEDGER_NEGATIVE_QUANTITY"
	CodeNonZeroBalance   xerrors.Code = "LEDGER_NONZERO_BALANCE"
	CodeSumMismatch      xerrors.Code = "LEDGER_SUM_MISMATCH"
	CodeOwnerSetMismatch xerrors.Code = "LEDGER_OWNER_SET_MISMATCH"
	CodeSignerMismatch   xerrors.Code = "LEDGER_SIGNER_MISMATCH"
	CodeCurrencyMismatch xerrors.Code = "LEDGER_CURRENCY_MISMATCH"
	CodeMultipleCommands xerrors.Code = "LEDGER_MULTIPLE_COMMANDS"
	CodeMissingCommand   xerrors.Code = "LEDGER_MISSING_COMMAND"
	CodeAmountParse      xerrors.Code = "LEDGER_AMOUNT_PARSE"
	CodeMalformedCommand xerrors.Code = "LEDGER_MALFORMED_COMMAND"
)

var validationCodes = map[xerrors.Code]string{
	CodeEmptyInput:       "currency group has no inputs",
	CodeEmptyOutput:      "currency group has no outputs",
	CodeUnexpectedInput:  "transition must not consume records",
	CodeUnexpectedOutput: "transition must not produce records",
	CodeWrongInputCount:  "wrong number of consumed records",
	CodeWrongOutputCount: "wrong number of produced records",
	CodeNegativeQuantity: "balance must be non-negative",
	CodeNonZeroBalance:   "balance must be zero",
	CodeSumMismatch:      "consumed and produced sums differ",
	CodeOwnerSetMismatch: "consumed and produced owners differ",
	CodeSignerMismatch:   "signers do not match owners",
	CodeCurrencyMismatch: "record currency does not match its amount",
	CodeMultipleCommands: "more than one wallet command present",
	CodeMissingCommand:   "no wallet command present",
}

var (
	// ErrAmountParse 表示金额文本无法解析。
	ErrAmountParse = xerrors.New(CodeAmountParse, "amount cannot be parsed")
	// ErrMalformedCommand 表示命令负载无法解码。
	ErrMalformedCommand = xerrors.New(CodeMalformedCommand, "command payload is malformed")
)

func init() {
	for code, message := range validationCodes {
		xerrors.Register(code, xerrors.Attributes{
			Message:  message,
			Severity: xerrors.SeverityInfo,
		})
	}
	xerrors.Register(CodeAmountParse, xerrors.Attributes{
		Message:  "amount cannot be parsed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeMalformedCommand, xerrors.Attributes{
		Message:  "command payload is malformed",
		Severity: xerrors.SeverityWarning,
	})
}

// IsValidationError 判断错误是否来自状态迁移校验。
func IsValidationError(err error) bool {
	_, ok := validationCodes[xerrors.CodeOf(err)]
	return ok
}

func violation(code xerrors.Code, format string, args ...any) error {
	return xerrors.Newf(code, format, args...)
}
