package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "OpenFX-Ledger/internal/errors"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService([]Token{
		{Subject: "operator", Secret: "op-secret", Permissions: []string{PermissionWalletsRead, PermissionWalletsWrite}},
		{Subject: "root", Secret: "root-secret", Permissions: []string{"*"}},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestAuthenticateRequest(t *testing.T) {
	svc := newTestService(t)
	if svc.Mode() != ModeToken {
		t.Fatalf("expected token mode, got %s", svc.Mode())
	}

	subject, err := svc.AuthenticateRequest("Bearer op-secret")
	if err != nil || subject.Name != "operator" {
		t.Fatalf("expected operator, got %v %v", subject, err)
	}
	if err := subject.Authorize(PermissionWalletsWrite); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := subject.Authorize(PermissionOracleAdmin); xerrors.CodeOf(err) != CodePermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}

	root, err := svc.AuthenticateRequest("bearer root-secret")
	if err != nil || !root.HasPermission(PermissionOracleAdmin) {
		t.Fatalf("wildcard subject: %v %v", root, err)
	}

	cases := map[string]xerrors.Code{
		"":                 CodeMissingToken,
		"Basic op-secret":  CodeMissingToken,
		"Bearer ":          CodeMissingToken,
		"Bearer not-a-key": CodeInvalidToken,
	}
	for header, want := range cases {
		if _, err := svc.AuthenticateRequest(header); xerrors.CodeOf(err) != want {
			t.Fatalf("header %q: expected %s, got %v", header, want, err)
		}
	}
}

func TestNewServiceValidation(t *testing.T) {
	disabled, err := NewService(nil)
	if err != nil || disabled.Mode() != ModeDisabled {
		t.Fatalf("expected disabled service, got %v %v", disabled, err)
	}
	if _, err := NewService([]Token{{Subject: "a"}}); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewService([]Token{{Subject: "a", Secret: "s"}, {Subject: "b", Secret: "s"}}); err == nil {
		t.Fatal("expected error for duplicate secret")
	}
}

func TestMiddleware(t *testing.T) {
	svc := newTestService(t)
	var seen *Subject
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet: {PermissionWalletsRead},
			"*":            {PermissionOracleAdmin},
		},
	})(next)

	cases := []struct {
		name   string
		method string
		token  string
		status int
	}{
		{"no token", http.MethodGet, "", http.StatusUnauthorized},
		{"unknown token", http.MethodGet, "Bearer nope", http.StatusUnauthorized},
		{"read allowed", http.MethodGet, "Bearer op-secret", http.StatusNoContent},
		{"admin denied", http.MethodPut, "Bearer op-secret", http.StatusForbidden},
		{"admin allowed", http.MethodPut, "Bearer root-secret", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(tc.method, "/api/v1/oracle/rates", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", tc.token)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if tc.status == http.StatusNoContent && seen == nil {
				t.Fatal("subject missing from request context")
			}
		})
	}

	open, _ := NewService(nil)
	rec := httptest.NewRecorder()
	open.Middleware(MiddlewareConfig{})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("disabled mode should pass through, got %d", rec.Code)
	}
}
