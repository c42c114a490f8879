package auth

import (
	"strings"

	xerrors "OpenFX-Ledger/internal/errors"
)

// 认证相关错误码。
const (
	CodeMissingToken     xerrors.Code = "AUTH_MISSING_TOKEN"
	CodeInvalidToken     xerrors.Code = "AUTH_INVALID_TOKEN"
	CodePermissionDenied xerrors.Code = "AUTH_PERMISSION_DENIED"
)

var (
	// ErrMissingToken 表示请求未携带 Bearer 令牌。
	ErrMissingToken = xerrors.New(CodeMissingToken, "missing bearer token")
	// ErrInvalidToken 表示令牌未在配置中登记。
	ErrInvalidToken = xerrors.New(CodeInvalidToken, "invalid token")
	// ErrPermissionDenied 表示主体缺少所需权限。
	ErrPermissionDenied = xerrors.New(CodePermissionDenied, "permission denied")
)

func init() {
	xerrors.Register(CodeMissingToken, xerrors.Attributes{
		Message:  "missing bearer token",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidToken, xerrors.Attributes{
		Message:  "invalid token",
		Severity: xerrors.SeverityWarning,
		Security: true,
	})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{
		Message:  "permission denied",
		Severity: xerrors.SeverityWarning,
		Security: true,
	})
}

// 节点 API 使用的权限名。
const (
	PermissionWalletsRead  = "wallets:read"
	PermissionWalletsWrite = "wallets:write"
	PermissionRatesRead    = "rates:read"
	PermissionOracleAdmin  = "oracle:admin"
)

// Mode 表示认证服务的工作模式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

// Token 描述一个静态访问令牌及其授予的权限。
type Token struct {
	Subject     string
	Secret      string
	Permissions []string
}

// Subject 是通过认证的调用方，由中间件写入请求上下文。
type Subject struct {
	Name        string
	Permissions []string

	permissionsSet map[string]struct{}
}

func newSubject(name string, perms []string) *Subject {
	s := &Subject{Name: name, Permissions: append([]string(nil), perms...)}
	s.permissionsSet = make(map[string]struct{}, len(perms))
	for _, perm := range perms {
		s.permissionsSet[normalisePermission(perm)] = struct{}{}
	}
	return s
}

func normalisePermission(perm string) string {
	return strings.ToLower(strings.TrimSpace(perm))
}

// HasPermission 判断主体是否拥有指定权限，"*" 代表全部权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	if _, ok := s.permissionsSet["*"]; ok {
		return true
	}
	_, ok := s.permissionsSet[normalisePermission(permission)]
	return ok
}

// Authorize 确认主体拥有全部所需权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return xerrors.New(CodePermissionDenied, "permission denied",
				xerrors.WithMetadata("subject", s.Name),
				xerrors.WithMetadata("missing", perm))
		}
	}
	return nil
}
