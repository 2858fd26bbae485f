package authn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

func setSecret(t *testing.T) {
	t.Helper()
	t.Setenv(secretEnvVariable, testSecret)
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func baseClaims() Claims {
	now := time.Now().UTC()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "alice",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestGenerateAndValidateRoundTrip(t *testing.T) {
	setSecret(t)

	token, err := GenerateToken("alice", true, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("subject %q, want alice", claims.Subject)
	}
	if !claims.Admin {
		t.Fatal("admin claim lost")
	}
	if claims.ID == "" {
		t.Fatal("token id missing")
	}
}

func TestGenerateTokenRejectsBadInput(t *testing.T) {
	setSecret(t)
	if _, err := GenerateToken("", false, time.Hour); err == nil {
		t.Fatal("accepted empty username")
	}
	if _, err := GenerateToken("alice", false, 0); err == nil {
		t.Fatal("accepted zero ttl")
	}
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
	if _, err := GenerateToken("alice", false, time.Hour); !errors.Is(err, errMissingSecret) {
		t.Fatalf("got %v, want errMissingSecret", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	setSecret(t)
	for _, token := range []string{"", "   ", "not.a.token"} {
		if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: got %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	setSecret(t)
	token, err := GenerateToken("alice", false, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	t.Setenv(secretEnvVariable, "a-different-secret")
	ResetSecretForTests()
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestParseRejectsBadClaims(t *testing.T) {
	setSecret(t)

	expired := baseClaims()
	expired.IssuedAt = jwt.NewNumericDate(time.Now().UTC().Add(-2 * time.Hour))
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().UTC().Add(-time.Hour))

	wrongIssuer := baseClaims()
	wrongIssuer.Issuer = "someone-else"

	noSubject := baseClaims()
	noSubject.Subject = ""

	futureIssued := baseClaims()
	futureIssued.IssuedAt = jwt.NewNumericDate(time.Now().UTC().Add(time.Hour))
	futureIssued.ExpiresAt = jwt.NewNumericDate(time.Now().UTC().Add(2 * time.Hour))

	cases := []struct {
		name   string
		claims Claims
	}{
		{"expired", expired},
		{"wrong issuer", wrongIssuer},
		{"missing subject", noSubject},
		{"issued in the future", futureIssued},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := signToken(t, tc.claims)
			if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("got %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithUser(context.Background(), "alice", true)
	user, ok := UserFromContext(ctx)
	if !ok || user != "alice" {
		t.Fatalf("got %q/%v, want alice", user, ok)
	}
	if !IsAdminFromContext(ctx) {
		t.Fatal("admin flag lost")
	}
	if _, ok := UserFromContext(context.Background()); ok {
		t.Fatal("empty context produced a user")
	}
	if IsAdminFromContext(context.Background()) {
		t.Fatal("empty context reported admin")
	}
}
