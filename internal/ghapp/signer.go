// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

// Package ghapp authenticates as a GitHub App and maintains the installation
// access token used for all repository operations.
package ghapp

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/cruxstack/platform-api/internal/shared"
)

var (
	// ErrKeyParse is returned when the App private key is malformed.
	ErrKeyParse = errors.New("private key parse error")

	// ErrSigning is returned when the JWT cannot be signed.
	ErrSigning = errors.New("jwt signing error")
)

const (
	// jwtBackdate tolerates clock drift between us and GitHub.
	jwtBackdate = 60 * time.Second

	// jwtLifetime is measured from now; GitHub rejects exp more than 10
	// minutes ahead.
	jwtLifetime = 9 * time.Minute
)

// ParsePrivateKey parses a PEM encoded RSA key (PKCS#1 or PKCS#8). Keys
// without PEM armour are read as base64 encoded PKCS#1 DER.
func ParsePrivateKey(b []byte) (*rsa.PrivateKey, error) {
	if block, _ := pem.Decode(b); block != nil {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(b)
		if err != nil {
			return nil, keyParseError(err)
		}
		return key, nil
	}

	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, keyParseError(err)
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, keyParseError(err)
	}
	return key, nil
}

func keyParseError(err error) error {
	return fmt.Errorf("%w: %w: %w", shared.ErrAuthentication, ErrKeyParse, err)
}

// Signer mints the short-lived JWTs that identify the GitHub App.
type Signer struct {
	appID string
	key   *rsa.PrivateKey
}

// NewSigner returns a Signer issuing tokens for appID.
func NewSigner(appID string, key *rsa.PrivateKey) (*Signer, error) {
	if appID == "" {
		return nil, fmt.Errorf("%w: app id is required", shared.ErrConfiguration)
	}
	if key == nil {
		return nil, keyParseError(errors.New("private key is required"))
	}
	return &Signer{appID: appID, key: key}, nil
}

// Sign returns an RS256 JWT with iat backdated by a minute and exp nine
// minutes after now.
func (s *Signer) Sign(now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-jwtBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
		Issuer:    s.appID,
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %w", shared.ErrAuthentication, ErrSigning, err)
	}
	return signed, nil
}
