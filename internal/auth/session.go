package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	audienceSession      = "session"
	audienceVerification = "verification"
)

var errInvalidToken = errors.New("invalid token")

type sessionClaims struct {
	jwt.RegisteredClaims
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

func (s *sessionClaims) identity() Identity {
	return Identity{
		Subject: s.Subject,
		Email:   s.Email,
		Name:    s.Name,
		Picture: s.Picture,
	}
}

// verificationClaims carries the login transaction between /login and
// /callback.
type verificationClaims struct {
	jwt.RegisteredClaims
	State    string `json:"state"`
	Nonce    string `json:"nonce"`
	Verifier string `json:"verifier"`
	ReturnTo string `json:"return_to"`
}

// signer issues and verifies the HS256 tokens stored in cookies.
type signer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// newSigner derives the cookie signing key from the application secret.
func newSigner(secret, issuer string) (*signer, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("parlance cookie signing key"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &signer{key: key, issuer: issuer, now: time.Now}, nil
}

func (s *signer) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *signer) registered(audience, subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *signer) parse(token, audience string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidToken, err)
	}
	return nil
}

func (s *signer) issueSession(id Identity, ttl time.Duration) (string, error) {
	return s.sign(&sessionClaims{
		RegisteredClaims: s.registered(audienceSession, id.Subject, ttl),
		Email:            id.Email,
		Name:             id.Name,
		Picture:          id.Picture,
	})
}

func (s *signer) parseSession(token string) (*sessionClaims, error) {
	var claims sessionClaims
	if err := s.parse(token, audienceSession, &claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", errInvalidToken)
	}
	return &claims, nil
}

func (s *signer) issueVerification(v verificationClaims, ttl time.Duration) (string, error) {
	v.RegisteredClaims = s.registered(audienceVerification, "", ttl)
	return s.sign(&v)
}

func (s *signer) parseVerification(token string) (*verificationClaims, error) {
	var claims verificationClaims
	if err := s.parse(token, audienceVerification, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}
