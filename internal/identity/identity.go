// Package identity projects an authenticated request's user identity
// onto the headers sent to a backend, signed so the backend can trust
// them without re-running authentication itself. Any of these headers
// arriving from the client is stripped before the gateway's own values
// are attached, so a backend never sees forged identity.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderUserID        = "X-User-Id"
	HeaderUserRole      = "X-User-Role"
	HeaderSignature     = "X-User-Id-Signature"
	HeaderTimestamp     = "X-User-Id-Timestamp"
	HeaderGatewayService = "X-Gateway-Service"
)

// clientSuppliedHeaders is the full set of identity headers a client must
// never be able to set directly.
var clientSuppliedHeaders = []string{
	HeaderUserID, HeaderUserRole, HeaderSignature, HeaderTimestamp, HeaderGatewayService,
}

// Signer signs (userID, userRole, timestamp) triples with a shared
// secret so backends can verify the gateway, not the client, set them.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer over secret. An empty secret still produces
// deterministic (if weak) signatures, which is acceptable for local/dev
// deployments where no secret was configured.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex-encoded HMAC-SHA256 over "userID|userRole|timestamp".
func (s *Signer) Sign(userID, userRole string, timestamp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(userID))
	mac.Write([]byte{'|'})
	mac.Write([]byte(userRole))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the correct signature for the triple.
func (s *Signer) Verify(userID, userRole string, timestamp int64, sig string) bool {
	want := s.Sign(userID, userRole, timestamp)
	return hmac.Equal([]byte(want), []byte(sig))
}

// maxTokenAge bounds how long an Authenticate token may be replayed for.
const maxTokenAge = 5 * time.Minute

// Authenticate verifies an "Authorization: Bearer <token>" value minted
// by the upstream identity issuer that shares this Signer's secret — the
// gateway's only source of truth for who a request is from. The token is
// "userID|userRole|timestamp|signature"; this is a genuinely separate
// channel from the client-facing X-User-Id/X-User-Role headers, which
// are always attacker-controlled and must never be trusted as identity
// (see StripClientHeaders). A missing, malformed, expired, or
// incorrectly signed token authenticates as nobody.
func (s *Signer) Authenticate(authorization string) (User, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		return User{}, false
	}
	parts := strings.Split(strings.TrimPrefix(authorization, prefix), "|")
	if len(parts) != 4 {
		return User{}, false
	}
	userID, role, tsStr, sig := parts[0], parts[1], parts[2], parts[3]
	if userID == "" {
		return User{}, false
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return User{}, false
	}
	if !s.Verify(userID, role, ts, sig) {
		return User{}, false
	}
	age := time.Since(time.Unix(ts, 0))
	if age < 0 || age > maxTokenAge {
		return User{}, false
	}
	return User{ID: userID, Role: role}, true
}

// StripClientHeaders removes every identity header a client may have
// sent, so a later Project call is the only source of truth.
func StripClientHeaders(h http.Header) {
	for _, name := range clientSuppliedHeaders {
		h.Del(name)
	}
}

// Project attaches the signed identity headers for userID/userRole plus
// the originating service name onto an outbound request's headers.
func (s *Signer) Project(h http.Header, userID, userRole, serviceName string) {
	ts := time.Now().Unix()
	h.Set(HeaderUserID, userID)
	h.Set(HeaderUserRole, userRole)
	h.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(HeaderSignature, s.Sign(userID, userRole, ts))
	h.Set(HeaderGatewayService, serviceName)
}

// User is the authenticated caller identity attached to a request's
// context, typically by an upstream auth step before the forward engine
// runs.
type User struct {
	ID   string
	Role string
}

type ctxKey struct{}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFromContext retrieves the user attached by WithUser, if any.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}
