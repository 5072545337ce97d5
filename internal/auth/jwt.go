package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleKiosk is the role carried by check-in kiosk tokens.
const RoleKiosk = "kiosk"

// Token types. Only access tokens authenticate requests; refresh tokens are
// exchanged for a new pair.
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// ErrWrongTokenType is returned when a token of the other type is presented.
var ErrWrongTokenType = errors.New("wrong token type")

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims is the JWT payload issued to kiosks.
type Claims struct {
	Role           string `json:"role"`
	TokenType      string `json:"token_type"`
	OrganizationID string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs tokens with an HS256 key.
type Issuer struct {
	Name       string
	Key        []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issue signs an access and a refresh token for subject.
func (i Issuer) Issue(subject, role, orgID string, now time.Time) (TokenPair, error) {
	pair := TokenPair{AccessExp: now.Add(i.AccessTTL), RefreshExp: now.Add(i.RefreshTTL)}

	var err error
	if pair.AccessToken, err = i.sign(subject, role, orgID, TokenAccess, now, pair.AccessExp); err != nil {
		return TokenPair{}, err
	}
	if pair.RefreshToken, err = i.sign(subject, role, orgID, TokenRefresh, now, pair.RefreshExp); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func (i Issuer) sign(subject, role, orgID, typ string, now, exp time.Time) (string, error) {
	claims := Claims{
		Role:           role,
		TokenType:      typ,
		OrganizationID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.Name,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Key)
}

// Parse validates a token and returns its claims.
func (i Issuer) Parse(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.Key, nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if i.Name != "" && claims.Issuer != i.Name {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}

// ParseAs validates a token and requires it to be of type typ.
func (i Issuer) ParseAs(tokenStr, typ string) (Claims, error) {
	claims, err := i.Parse(tokenStr)
	if err != nil {
		return Claims{}, err
	}
	if claims.TokenType != typ {
		return Claims{}, ErrWrongTokenType
	}
	return claims, nil
}
