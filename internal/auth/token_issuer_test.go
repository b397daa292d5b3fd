package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "backoffice-api",
		Audience:      "backoffice-dashboard",
		TokenTTL:      15 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}
	return issuer
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     TokenIssuerConfig
		wantErr error
	}{
		{
			name:    "missing secret",
			cfg:     TokenIssuerConfig{Issuer: "backoffice-api", Audience: "backoffice-dashboard"},
			wantErr: errMissingSigningSecret,
		},
		{
			name:    "missing issuer",
			cfg:     TokenIssuerConfig{SigningSecret: []byte("s"), Audience: "backoffice-dashboard"},
			wantErr: errMissingIssuer,
		},
		{
			name:    "missing audience",
			cfg:     TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "backoffice-api"},
			wantErr: errMissingAudience,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewTokenIssuer(tc.cfg); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	token, expiresIn, err := issuer.IssueSessionToken("identity-123")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if expiresIn != int64((15 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds: %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if subject != "identity-123" {
		t.Fatalf("unexpected subject: %q", subject)
	}
}

func TestIssueSessionTokenRequiresSubject(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	if _, _, err := issuer.IssueSessionToken("  "); !errors.Is(err, errMissingSubjectClaim) {
		t.Fatalf("expected errMissingSubjectClaim, got %v", err)
	}
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	current := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, func() time.Time { return current })

	token, _, err := issuer.IssueSessionToken("identity-123")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	current = current.Add(16 * time.Minute)
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	other, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("another-secret"),
		Issuer:        "backoffice-api",
		Audience:      "backoffice-dashboard",
	})
	if err != nil {
		t.Fatalf("failed to create second issuer: %v", err)
	}

	token, _, err := other.IssueSessionToken("identity-123")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatalf("expected token signed by another secret to be rejected")
	}
}
