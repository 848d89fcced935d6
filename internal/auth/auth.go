package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type Identity struct {
	UserID string
	Email  string
	Role   Role
}

var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves a bearer token to an identity. Token issuance lives in
// a separate auth service; this side only validates.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// HMACVerifier validates self-describing tokens of the form
// "userID|email|role|base64(hmac-sha256(userID|email|role))".
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(token string) (Identity, error) {
	parts := strings.Split(token, "|")
	if len(parts) != 4 {
		return Identity{}, ErrInvalidToken
	}
	userID, email, role, sig := parts[0], parts[1], parts[2], parts[3]

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(userID + "|" + email + "|" + role))
	want := mac.Sum(nil)
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(want, got) {
		return Identity{}, ErrInvalidToken
	}
	if role != string(RoleUser) && role != string(RoleAdmin) {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: userID, Email: email, Role: Role(role)}, nil
}

// SignToken builds a token the HMACVerifier accepts. Used by tests and dev
// tooling; production tokens come from the auth service.
func SignToken(secret, userID, email string, role Role) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID + "|" + email + "|" + string(role)))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return userID + "|" + email + "|" + string(role) + "|" + sig
}

type ctxKey struct{}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Require authenticates the request and stashes the identity in the context.
func Require(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			id, err := v.Verify(token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		})
	}
}

// RequireAdmin must be mounted inside Require.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok || id.Role != RoleAdmin {
			http.Error(w, "admin only", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(h, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}
