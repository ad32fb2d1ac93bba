package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/crawlupload/internal/common"
)

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")

	tok, err := GenerateToken(Claims{UserID: "user-123", OrgIDs: []string{"o1", "o2"}}, secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	claims, err := ParseToken(tok, secret)
	if err != nil {
		t.Fatalf("ParseToken error: %v", err)
	}
	if claims.UserID != "user-123" {
		t.Fatalf("userID mismatch: got %q", claims.UserID)
	}
	if len(claims.OrgIDs) != 2 || claims.Superuser {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Subject != "user-123" {
		t.Fatalf("subject not set: %q", claims.Subject)
	}
}

func TestParseToken_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")

	tok, err := GenerateToken(Claims{UserID: "u1"}, secret, -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = ParseToken(tok, secret)
	if err != common.ErrTokenExpired {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken(Claims{UserID: "u2"}, []byte("right-secret"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = ParseToken(tok, []byte("wrong-secret"))
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseToken_MalformedString(t *testing.T) {
	t.Parallel()

	_, err := ParseToken("not.a.jwt", []byte("k"))
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: "u"}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken(tok, []byte("k")); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseToken_RequiresUserID(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken(Claims{}, []byte("k"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	if _, err := ParseToken(tok, []byte("k")); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestClaims_Org(t *testing.T) {
	t.Parallel()

	member := &Claims{UserID: "u", OrgIDs: []string{"o1"}}
	if org, err := member.Org("o1"); err != nil || org.ID != "o1" {
		t.Fatalf("member org: %v %v", org, err)
	}
	if _, err := member.Org("o2"); !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("expected ErrorForbidden, got %v", err)
	}
	if _, err := member.Org(""); !errors.Is(err, common.ErrorInvalidInput) {
		t.Fatalf("expected ErrorInvalidInput, got %v", err)
	}

	su := &Claims{UserID: "admin", Superuser: true}
	if _, err := su.Org("any"); err != nil {
		t.Fatalf("superuser: %v", err)
	}
	if _, err := su.Org(AllOrgs); !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("all-orgs segment as an org: want ErrorForbidden, got %v", err)
	}
	if _, err := (&Claims{UserID: "u", OrgIDs: []string{AllOrgs}}).Org(AllOrgs); !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("member of %q: want ErrorForbidden, got %v", AllOrgs, err)
	}
	if u := su.User(); !u.IsSuperuser || u.ID != "admin" {
		t.Fatalf("unexpected user: %+v", u)
	}
}
