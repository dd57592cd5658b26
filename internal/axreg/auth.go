package axreg

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	AuthModeHeader = "header"
	AuthModeJWT    = "jwt"
)

// Authenticator decorates outgoing requests with AXReg credentials.
type Authenticator interface {
	Authenticate(req *http.Request) error
}

// HeaderAuth sends the API key pair as request headers.
type HeaderAuth struct {
	Key    string
	Secret string
}

func (a HeaderAuth) Authenticate(req *http.Request) error {
	req.Header.Set("X-Api-Key", a.Key)
	if a.Secret != "" {
		req.Header.Set("X-Api-Secret", a.Secret)
	}
	return nil
}

// JWTAuth signs a short-lived HS256 client assertion per request and sends
// it as a bearer token. iss and sub carry the API key.
type JWTAuth struct {
	Key    string
	Secret []byte
	TTL    time.Duration

	now func() time.Time
}

func (a JWTAuth) Authenticate(req *http.Request) error {
	token, err := a.sign()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a JWTAuth) sign() (string, error) {
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	ttl := a.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	issued := now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.Key,
		Subject:   a.Key,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
	if err != nil {
		return "", fmt.Errorf("sign client assertion: %w", err)
	}
	return signed, nil
}

// NewAuthenticator builds the authenticator for the configured mode.
func NewAuthenticator(mode, key, secret string) (Authenticator, error) {
	switch mode {
	case "", AuthModeHeader:
		return HeaderAuth{Key: key, Secret: secret}, nil
	case AuthModeJWT:
		if secret == "" {
			return nil, fmt.Errorf("jwt auth requires a secret")
		}
		return JWTAuth{Key: key, Secret: []byte(secret)}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}
