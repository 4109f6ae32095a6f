package security

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/opera-os/opera/internal/tools"
)

var testSecret = []byte("test-secret-key-32bytes-long!!!!!")

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken("alice", RoleOperator, []tools.Permission{tools.PermRead}, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(token, testSecret)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "alice" || claims.Role != RoleOperator {
		t.Errorf("claims = %+v", claims)
	}
	if diff := cmp.Diff([]tools.Permission{tools.PermRead}, claims.Permissions); diff != "" {
		t.Errorf("permissions (-want +got):\n%s", diff)
	}
	if claims.IssuedAt == 0 || claims.ExpiresAt <= claims.IssuedAt {
		t.Errorf("bad timestamps: %+v", claims)
	}
}

func TestGenerateTokenUnknownRole(t *testing.T) {
	if _, err := GenerateToken("x", "root", nil, testSecret, time.Hour); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	token, _ := GenerateToken("alice", RoleOwner, nil, testSecret, -time.Hour)
	if _, err := ValidateToken(token, testSecret); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	if _, err := ValidateToken("not-a-valid-jwt", testSecret); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	token, _ := GenerateToken("alice", RoleOwner, nil, []byte("secret-1"), time.Hour)
	if _, err := ValidateToken(token, []byte("secret-2")); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestClaimsAuthorize(t *testing.T) {
	read, write, del := tools.PermRead, tools.PermWrite, tools.PermDelete

	tests := []struct {
		name      string
		claims    Claims
		requested []tools.Permission
		want      []tools.Permission
		wantErr   bool
	}{
		{"role defaults", Claims{Role: RoleOperator}, nil, []tools.Permission{read, write}, false},
		{"explicit claim", Claims{Role: RoleOwner, Permissions: []tools.Permission{read}}, nil, []tools.Permission{read}, false},
		{"subset", Claims{Role: RoleOperator}, []tools.Permission{read}, []tools.Permission{read}, false},
		{"empty request", Claims{Role: RoleReadonly}, []tools.Permission{}, []tools.Permission{}, false},
		{"beyond grant", Claims{Role: RoleOperator}, []tools.Permission{read, del}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.claims.Authorize(tt.requested)
			if tt.wantErr {
				if !errors.Is(err, ErrPermissionNotGranted) {
					t.Fatalf("expected ErrPermissionNotGranted, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := GetClaims(r); err != nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	valid, _ := GenerateToken("alice", RoleOwner, nil, testSecret, time.Hour)
	h := AuthMiddleware(testSecret, discard())(okHandler())

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", "", http.StatusUnauthorized},
		{"invalid token", "Bearer nope", "", http.StatusUnauthorized},
		{"valid header", "Bearer " + valid, "", http.StatusOK},
		{"valid query", "", "?token=" + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/status"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddleware_DevMode(t *testing.T) {
	h := AuthMiddleware(nil, discard())(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/run", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("dev mode should pass through without claims, got %d", w.Code)
	}
}
