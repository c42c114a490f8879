package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"strings"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/pkg/logger"
)

// Service 负责校验 API 请求携带的静态令牌。
type Service struct {
	mode    Mode
	entries []tokenEntry
	audit   *slog.Logger
}

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// NewService 根据令牌列表构造认证服务，列表为空时关闭认证。
func NewService(tokens []Token) (*Service, error) {
	svc := &Service{mode: ModeDisabled, audit: logger.Audit()}
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		secret := strings.TrimSpace(tok.Secret)
		if secret == "" {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "令牌 %s 的密钥不能为空", tok.Subject)
		}
		if strings.TrimSpace(tok.Subject) == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "令牌主体名称不能为空")
		}
		if _, dup := seen[secret]; dup {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "令牌 %s 与其他令牌重复", tok.Subject)
		}
		seen[secret] = struct{}{}
		svc.entries = append(svc.entries, tokenEntry{
			digest:  sha256.Sum256([]byte(secret)),
			subject: newSubject(tok.Subject, tok.Permissions),
		})
	}
	if len(svc.entries) > 0 {
		svc.mode = ModeToken
	}
	return svc, nil
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 解析 Authorization 头并返回对应主体。
func (s *Service) AuthenticateRequest(header string) (*Subject, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(strings.TrimSpace(token)))
	var match *Subject
	// 遍历全部条目，比较耗时与令牌位置无关。
	for _, entry := range s.entries {
		if subtle.ConstantTimeCompare(digest[:], entry.digest[:]) == 1 {
			match = entry.subject
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	return match, nil
}
