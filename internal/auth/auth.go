package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const ClaimsKey ctxKey = 1

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

func (c Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// Keys holds the public half of the issuer's signing key. Tokens are issued by the
// user service; this service only verifies them.
type Keys struct {
	publicKey *rsa.PublicKey
}

func NewKeys(publicKey *rsa.PublicKey) (*Keys, error) {
	if publicKey == nil {
		return nil, errors.New("public key cannot be nil")
	}
	return &Keys{publicKey: publicKey}, nil
}

// LoadKeys accepts either a PEM block or a path to a PEM file.
func LoadKeys(pemOrPath string) (*Keys, error) {
	data := []byte(pemOrPath)
	if !strings.Contains(pemOrPath, "-----BEGIN") {
		b, err := os.ReadFile(pemOrPath)
		if err != nil {
			return nil, fmt.Errorf("reading public key file: %w", err)
		}
		data = b
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return NewKeys(pub)
}

func (k *Keys) ValidateToken(tokenStr string) (Claims, error) {
	var claims Claims
	tkn, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return k.publicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !tkn.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
