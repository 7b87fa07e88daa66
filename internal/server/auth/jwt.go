package auth

import (
	"bytes"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// RawClaims is the untyped payload of a token plus the token itself under
// ClaimValue.
type RawClaims map[string]any

// Signer issues and checks RS256 tokens with a fixed key pair.
type Signer struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

func NewSigner(private *rsa.PrivateKey, public *rsa.PublicKey) (*Signer, error) {
	if private == nil || public == nil {
		return nil, errors.New("signer requires both private and public keys")
	}
	return &Signer{private: private, public: public}, nil
}

// Issue signs a token for subject. Custom claims are carried as strings next
// to the registered sub/iat/exp/nbf claims.
func (s *Signer) Issue(subject string, claims map[string]string, issuedAt, expiresAt time.Time) (string, error) {
	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	mc[ClaimSubject] = subject
	mc[ClaimIssuedAt] = jwt.NewNumericDate(issuedAt)
	mc[ClaimNotBefore] = jwt.NewNumericDate(issuedAt)
	mc[ClaimExpiresAt] = jwt.NewNumericDate(expiresAt)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, mc)
	signed, err := token.SignedString(s.private)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token shape, algorithm and signature. Time-based claims
// are left to the caller.
func (s *Signer) Verify(token string) error {
	_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return s.public, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrMalformedToken, err)
	}
	return nil
}

// ParseClaims decodes the payload without verifying anything.
func ParseClaims(token string) (RawClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", common.ErrMalformedToken, len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("%w: payload encoding: %v", common.ErrMalformedToken, err)
	}

	claims := RawClaims{}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: payload json: %v", common.ErrMalformedToken, err)
	}

	claims[ClaimValue] = token
	return claims, nil
}

// ParseClaims calls the package-level ParseClaims.
func (s *Signer) ParseClaims(token string) (RawClaims, error) {
	return ParseClaims(token)
}
