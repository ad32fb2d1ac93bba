// Package auth issues and verifies the HS256 access tokens that identify a
// caller and the organizations they may upload to.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/crawlupload/internal/common"
	"github.com/dmitrijs2005/crawlupload/internal/server/models"
)

// AllOrgs is the org path segment of superuser routes that span every org.
// It is never a real org id.
const AllOrgs = "all"

// Claims carries the caller identity: the user id, the org ids the user is
// a member of, and whether the user may act in any org.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string   `json:"uid"`
	OrgIDs    []string `json:"orgs,omitempty"`
	Superuser bool     `json:"su,omitempty"`
}

// User returns the authenticated caller.
func (c *Claims) User() models.User {
	return models.User{ID: c.UserID, IsSuperuser: c.Superuser}
}

// Org authorizes the caller for orgID.
func (c *Claims) Org(orgID string) (models.Organization, error) {
	if orgID == "" {
		return models.Organization{}, common.ErrorInvalidInput
	}
	if orgID == AllOrgs {
		return models.Organization{}, common.ErrorForbidden
	}
	if !c.Superuser && !slices.Contains(c.OrgIDs, orgID) {
		return models.Organization{}, common.ErrorForbidden
	}
	return models.Organization{ID: orgID}, nil
}

func GenerateToken(claims Claims, secretKey []byte, validityDuration time.Duration) (string, error) {
	claims.RegisteredClaims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(validityDuration))
	claims.RegisteredClaims.Subject = claims.UserID

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies tokenString and returns its claims. Expired tokens
// yield common.ErrTokenExpired; any other failure yields common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
