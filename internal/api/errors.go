package api

import (
	"encoding/json"
	"net/http"

	"OpenFX-Ledger/internal/auth"
	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/finality"
	"OpenFX-Ledger/internal/flow"
	"OpenFX-Ledger/internal/identity"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/node"
	"OpenFX-Ledger/internal/observability/metrics"
	"OpenFX-Ledger/internal/oracle"
)

// ErrorResponse 是所有错误响应的统一格式。
type ErrorResponse struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

var statusByCode = map[xerrors.Code]int{
	xerrors.CodeInvalidArgument:   http.StatusBadRequest,
	ledger.CodeAmountParse:        http.StatusBadRequest,
	identity.CodeUnknownParty:     http.StatusBadRequest,
	xerrors.CodeNotFound:          http.StatusNotFound,
	flow.CodeInsufficientRecord:   http.StatusNotFound,
	oracle.CodeRateNotFound:       http.StatusNotFound,
	xerrors.CodeConflict:          http.StatusConflict,
	flow.CodeDuplicateCurrency:    http.StatusConflict,
	finality.CodeDoubleSpend:      http.StatusConflict,
	finality.CodeAlreadyCommitted: http.StatusConflict,
	node.CodeNotOracle:            http.StatusForbidden,
	auth.CodeMissingToken:         http.StatusUnauthorized,
	auth.CodeInvalidToken:         http.StatusUnauthorized,
	auth.CodePermissionDenied:     http.StatusForbidden,
	xerrors.CodeTimeout:           http.StatusGatewayTimeout,
	xerrors.CodeTransportFailure:  http.StatusBadGateway,
	flow.CodeProtocol:             http.StatusBadGateway,
	flow.CodeCounterpartyRejected: http.StatusBadGateway,
	finality.CodeRejected:         http.StatusBadGateway,
	finality.CodeMissingSignature: http.StatusBadGateway,
}

// StatusOf 将错误码映射为 HTTP 状态码。校验失败统一为 422。
func StatusOf(err error) int {
	if ledger.IsValidationError(err) {
		return http.StatusUnprocessableEntity
	}
	if status, ok := statusByCode[xerrors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusOf(err), ErrorResponse{Code: xerrors.CodeOf(err), Message: xerrors.MessageOf(err)})
}

func writeMethodNotAllowed(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Code: xerrors.CodeInvalidArgument, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 为处理器记录请求计数。
func instrument(name string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status)
	})
}
