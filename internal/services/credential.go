package services

import (
	"context"
	"errors"
	"os"
	"strings"

	"cursos_checkout/internal/store"
)

// credentialKeys is the ordered probe list for a stored bearer token. The
// storefront historically wrote the token under several names; all of
// them are still honored, first non-empty wins.
var credentialKeys = []string{"token", "auth_token", "jwt", "access_token"}

// credentialEnvVars are checked after the store, so an operator can
// inject a token without touching Redis.
var credentialEnvVars = []string{"COURSE_API_TOKEN", "AUTH_TOKEN"}

// CredentialLookup locates the bearer credential of the logged-in user.
// Absence is a value ("not authenticated"), not an error; callers decide
// how to fail.
type CredentialLookup struct {
	kv     store.KeyValue
	getenv func(string) string
}

func NewCredentialLookup(kv store.KeyValue) *CredentialLookup {
	return &CredentialLookup{kv: kv, getenv: os.Getenv}
}

// BearerToken returns the first credential found, normalized to carry the
// "Bearer " scheme prefix. ok is false when nothing was found.
func (l *CredentialLookup) BearerToken(ctx context.Context) (token string, ok bool) {
	for _, key := range credentialKeys {
		val, err := l.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			// Store unreachable; fall through to the environment.
			break
		}
		if val = strings.TrimSpace(val); val != "" {
			return normalizeBearer(val), true
		}
	}

	for _, name := range credentialEnvVars {
		if val := strings.TrimSpace(l.getenv(name)); val != "" {
			return normalizeBearer(val), true
		}
	}

	return "", false
}

func normalizeBearer(token string) string {
	if strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bearer " + token
}
