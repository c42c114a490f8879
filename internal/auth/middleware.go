package auth

import (
	"log/slog"
	"net/http"
	"time"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/pkg/logger"
)

// MiddlewareConfig 配置认证中间件的行为。
type MiddlewareConfig struct {
	// RequiredPermissions 定义每个 HTTP 方法所需的权限，"*" 作为缺省项。
	RequiredPermissions map[string][]string
	// AuditEvent 指定审计日志中的事件名称。
	AuditEvent string
	// OnError 负责输出认证失败的响应，为空时使用 http.Error。
	OnError func(w http.ResponseWriter, err error)
}

// Middleware 返回一个完成认证、授权和审计的 HTTP 中间件。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.Mode() == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}
			subject, err := s.AuthenticateRequest(r.Header.Get("Authorization"))
			if err == nil {
				err = subject.Authorize(requiredFor(cfg.RequiredPermissions, r.Method)...)
			}
			if err != nil {
				s.reject(w, r, cfg, subject, err)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			s.auditLogger().Info("api_request",
				slog.String("event", event),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", aw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("subject", subject.Name),
			)
		})
	}
}

func requiredFor(perms map[string][]string, method string) []string {
	if required := perms[method]; len(required) > 0 {
		return required
	}
	return perms["*"]
}

func (s *Service) reject(w http.ResponseWriter, r *http.Request, cfg MiddlewareConfig, subject *Subject, err error) {
	status := StatusOf(err)
	attrs := []any{
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.Int("status", status),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.String("remote", r.RemoteAddr),
	}
	if subject != nil {
		attrs = append(attrs, slog.String("subject", subject.Name))
	}
	if xerrors.IsSecurity(err) {
		logger.Security().Warn("access_denied", attrs...)
	} else {
		s.auditLogger().Warn("access_denied", attrs...)
	}

	if cfg.OnError != nil {
		cfg.OnError(w, err)
		return
	}
	http.Error(w, http.StatusText(status), status)
}

func (s *Service) auditLogger() *slog.Logger {
	if s.audit != nil {
		return s.audit
	}
	return logger.Audit()
}

// StatusOf 返回认证错误对应的 HTTP 状态码。
func StatusOf(err error) int {
	if xerrors.CodeOf(err) == CodePermissionDenied {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 记录状态码后写入底层 ResponseWriter。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
