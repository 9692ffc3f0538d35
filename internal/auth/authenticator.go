package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/example/delivery-tracking/internal/apperr"
	"github.com/example/delivery-tracking/internal/models"
)

// CredentialVerifier is the token-verification collaborator: given a
// credential it returns the identity it names or an error.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (models.Identity, error)
}

// Authenticator turns an opaque credential presented at connection time
// into an Identity. It has no side effects.
type Authenticator struct {
	verifier CredentialVerifier
}

func NewAuthenticator(v CredentialVerifier) *Authenticator {
	return &Authenticator{verifier: v}
}

// Authenticate returns the verified identity or an Unauthenticated error.
// Verifier failures never leak their detail to the caller's client.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (models.Identity, error) {
	token := StripBearer(credential)
	if token == "" {
		return models.Identity{}, apperr.New(apperr.Unauthenticated, "credential missing")
	}
	id, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return models.Identity{}, apperr.Wrap(apperr.Unauthenticated, "credential rejected", err)
	}
	if id.UserID == "" || !id.Role.Valid() {
		return models.Identity{}, apperr.New(apperr.Unauthenticated, "credential rejected")
	}
	return id, nil
}

// StripBearer accepts "Bearer <t>" (any case) or a bare token.
func StripBearer(credential string) string {
	c := strings.TrimSpace(credential)
	if len(c) > 7 && strings.EqualFold(c[:7], "bearer ") {
		c = strings.TrimSpace(c[7:])
	}
	return c
}

var ErrNoCredential = errors.New("no credential on request")

// FromRequest reads the credential from the Authorization header, then the
// token query parameter (browsers cannot set headers on WebSocket upgrades).
func FromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		return h, nil
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return q, nil
	}
	return "", ErrNoCredential
}
