package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// TokenVerifier resolves a bearer token to a user identity. Implementations
// must treat verification failure as a normal outcome, not an error worth
// surfacing: an invalid token degrades to anonymous access.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}

// hmacVerifier verifies tokens of the form "<userID>.<signature>" where the
// signature is hex(HMAC-SHA256(secret, userID)). Tokens are issued by the
// platform that embeds the textbook; this service only validates them.
type hmacVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a TokenVerifier over a shared secret.
func NewHMACVerifier(secret []byte) (TokenVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("hmac secret must be at least 32 bytes, got %d", len(secret))
	}
	return &hmacVerifier{secret: secret}, nil
}

func (v *hmacVerifier) Verify(token string) (string, error) {
	userID, sig, ok := strings.Cut(token, ".")
	if !ok || userID == "" {
		return "", fmt.Errorf("malformed token")
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return "", fmt.Errorf("malformed token signature")
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(userID))
	if !hmac.Equal(mac.Sum(nil), want) {
		return "", fmt.Errorf("token signature mismatch")
	}
	return userID, nil
}

// SignToken produces a token the verifier accepts. Exposed for tooling and
// tests; production tokens come from the embedding platform.
func SignToken(secret []byte, userID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(userID))
	return userID + "." + hex.EncodeToString(mac.Sum(nil))
}

// anonID builds the IP-scoped identity for unauthenticated callers. The
// prefix keeps anonymous scope keys from ever colliding with real user IDs.
func anonID(r *http.Request, trustProxy bool) string {
	return "anon:" + clientIP(r, trustProxy)
}

// identityMiddleware resolves the governed identity for every request.
// A valid Authorization bearer token yields the verified user ID; anything
// else falls back to an anonymous IP-scoped identity so quotas still apply.
func identityMiddleware(verifier TokenVerifier, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := ""
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				token := strings.TrimPrefix(auth, "Bearer ")
				if id, err := verifier.Verify(token); err == nil {
					userID = id
				}
			}
			if userID == "" {
				userID = anonID(r, trustProxy)
			}
			ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
