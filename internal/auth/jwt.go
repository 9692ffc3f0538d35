package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/example/delivery-tracking/internal/models"
)

var (
	ErrEmptySecret        = errors.New("jwt: empty secret key")
	ErrInvalidSigningAlgo = errors.New("unexpected signing method")
	ErrInvalidRoleClaim   = errors.New("invalid role claim")
)

// Claims is the credential payload: sub carries the user id.
type Claims struct {
	Role string `json:"role"`
	jwtlib.RegisteredClaims
}

var _ jwtlib.Claims = (*Claims)(nil)

// JWTVerifier validates HS256 tokens.
type JWTVerifier struct {
	secret []byte
	issuer string
	parser *jwtlib.Parser
}

func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	s := strings.TrimSpace(secret)
	if s == "" {
		return nil, ErrEmptySecret
	}
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(issuer))
	}
	return &JWTVerifier{secret: []byte(s), issuer: issuer, parser: jwtlib.NewParser(opts...)}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (models.Identity, error) {
	claims := &Claims{}
	tkn, err := v.parser.ParseWithClaims(token, claims, func(t *jwtlib.Token) (any, error) {
		if t.Method != jwtlib.SigningMethodHS256 {
			return nil, ErrInvalidSigningAlgo
		}
		return v.secret, nil
	})
	if err != nil {
		return models.Identity{}, err
	}
	if !tkn.Valid {
		return models.Identity{}, errors.New("invalid token")
	}
	role, ok := models.ParseRole(claims.Role)
	if !ok {
		return models.Identity{}, fmt.Errorf("%w: %q", ErrInvalidRoleClaim, claims.Role)
	}
	if claims.Subject == "" {
		return models.Identity{}, errors.New("token has no subject")
	}
	return models.Identity{UserID: claims.Subject, Role: role}, nil
}

// Issue signs a credential. Only developer tooling and tests mint tokens;
// production credentials come from the identity service.
func Issue(secret, issuer string, id models.Identity, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		Role: id.Role.String(),
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(secret))
}
