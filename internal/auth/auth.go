// Package auth validates the tokens consumers present when they join a
// producer.
//
// It avoids policy decisions and storage concerns.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken is a simple validator for a single shared token.
// It is intended only for development and proofs of concept.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// AllowAll accepts every token. Used when a producer runs without auth.
type AllowAll struct{}

func (AllowAll) Validate(string) error { return nil }

// ConsumerClaims is the claim set carried by consumer tokens.
type ConsumerClaims struct {
	ConsumerID string `json:"consumer_id"`
	gojwt.RegisteredClaims
}

// JWT validates HS256 tokens signed with a shared secret.
type JWT struct {
	Secret []byte
	Issuer string
	Leeway time.Duration
}

func (j JWT) Validate(token string) error {
	_, err := j.Parse(token)
	return err
}

// Parse verifies token and returns its claims.
func (j JWT) Parse(token string) (ConsumerClaims, error) {
	if len(j.Secret) == 0 || strings.TrimSpace(token) == "" {
		return ConsumerClaims{}, ErrUnauthorized
	}
	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithLeeway(j.Leeway),
	}
	if j.Issuer != "" {
		opts = append(opts, gojwt.WithIssuer(j.Issuer))
	}
	var claims ConsumerClaims
	_, err := gojwt.ParseWithClaims(token, &claims, func(*gojwt.Token) (any, error) {
		return j.Secret, nil
	}, opts...)
	if err != nil {
		return ConsumerClaims{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims, nil
}

// Issue signs a token for consumerID valid for ttl. A zero ttl issues a
// token without expiry.
func (j JWT) Issue(consumerID string, ttl time.Duration) (string, error) {
	if len(j.Secret) == 0 {
		return "", errors.New("auth: empty jwt secret")
	}
	now := time.Now()
	claims := ConsumerClaims{
		ConsumerID: consumerID,
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:   j.Issuer,
			Subject:  consumerID,
			IssuedAt: gojwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = gojwt.NewNumericDate(now.Add(ttl))
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(j.Secret)
}
