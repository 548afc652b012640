// Package auth verifies bearer tokens and carries the authenticated subject on the
// request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the identity extracted from a verified token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// ErrMissingToken is returned when the Authorization header is absent.
var ErrMissingToken = errors.New("missing bearer token")

// ErrInvalidToken wraps parsing/validation errors.
var ErrInvalidToken = errors.New("invalid bearer token")

// Verifier turns a raw bearer token into Claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Config holds HMAC verification parameters.
type Config struct {
	Secret string
	Issuer string
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	cfg Config
}

// NewJWTVerifier constructs a JWTVerifier.
func NewJWTVerifier(cfg Config) JWTVerifier {
	return JWTVerifier{cfg: cfg}
}

// Verify implements Verifier.
func (v JWTVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	return Parse(token, v.cfg)
}

// Parse validates a JWT and returns normalized claims.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, ErrInvalidToken
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &Claims{
		Subject:   subject,
		ExpiresAt: exp.Time,
	}, nil
}

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier validates Firebase ID tokens issued to the mobile client. The subject is
// the Firebase uid.
type FirebaseVerifier struct {
	client idTokenVerifier
}

// NewFirebaseVerifier wraps an auth client obtained from a firebase.App.
func NewFirebaseVerifier(client idTokenVerifier) FirebaseVerifier {
	return FirebaseVerifier{client: client}
}

// Verify implements Verifier.
func (v FirebaseVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	verified, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if verified.UID == "" {
		return nil, ErrInvalidToken
	}
	return &Claims{
		Subject:   verified.UID,
		ExpiresAt: time.Unix(verified.Expires, 0).UTC(),
	}, nil
}
