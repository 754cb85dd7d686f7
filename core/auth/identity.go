package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Identity is who a caller is. It never carries the credential itself.
type Identity struct {
	UserID string `json:"id"`
	Org    string `json:"org"`
}

// UserIDForToken derives a stable, non-reversible user id from an API token.
func UserIDForToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

type contextKey string

const (
	identityKey   contextKey = "identity"
	credentialKey contextKey = "credential"
)

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// WithCredential stores the caller's API credential for downstream calls
// made on their behalf.
func WithCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey, token)
}

// CredentialFrom returns the credential stored by WithCredential.
func CredentialFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(credentialKey).(string)
	return token, ok && token != ""
}
