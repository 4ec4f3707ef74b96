// Package auth implements the control-connection authentication
// policies (component C: spec.md §4.C): None, Basic, and Digest. The
// teacher only ever sends a Basic Authorization header as a client
// (pkg/rtsp/client.go's describe); this package inverts that into the
// server-side challenge/verify half, plus the Digest mode the teacher
// has no analogue for at all, grounded directly on RFC 2617.
package auth

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/camcore/rtspd/pkg/wire"
)

// Policy selects which authentication scheme a listener enforces.
type Policy string

const (
	PolicyNone   Policy = "none"
	PolicyBasic  Policy = "basic"
	PolicyDigest Policy = "digest"
)

// UserTable maps username to password, looked up once per credential
// check. Callers own the map; Verifier never mutates it.
type UserTable map[string]string

// Verifier checks Authorization headers against a Policy and a user
// table, and mints the WWW-Authenticate challenges a 401 carries.
type Verifier struct {
	policy Policy
	realm  string
	users  UserTable

	mu    sync.Mutex
	nonce string // current nonce for this verifier's bound connection
}

// NewVerifier builds a Verifier. realm is only meaningful for Digest.
func NewVerifier(policy Policy, realm string, users UserTable) *Verifier {
	return &Verifier{policy: policy, realm: realm, users: users}
}

// Policy reports the configured policy.
func (v *Verifier) Policy() Policy { return v.policy }

// Challenge mints (or refreshes, for Digest) the WWW-Authenticate
// header value to attach to a 401 response. Each call to Challenge for
// Digest rotates the nonce the connection will accept next.
func (v *Verifier) Challenge() string {
	switch v.policy {
	case PolicyDigest:
		v.mu.Lock()
		v.nonce = newNonce()
		nonce := v.nonce
		v.mu.Unlock()
		return fmt.Sprintf(`Digest realm="%s", nonce="%s", algorithm=MD5`, v.realm, nonce)
	default:
		return fmt.Sprintf(`Basic realm="%s"`, v.realm)
	}
}

// Verify checks the Authorization header value from req against the
// configured policy. method and uri are the request-line method and
// URI, needed for Digest's HA2. It returns true when authenticated.
func (v *Verifier) Verify(authorization, method, uri string) bool {
	switch v.policy {
	case PolicyNone:
		return true
	case PolicyBasic:
		return v.verifyBasic(authorization)
	case PolicyDigest:
		return v.verifyDigest(authorization, method, uri)
	default:
		return false
	}
}

func (v *Verifier) verifyBasic(authorization string) bool {
	const prefix = "Basic "
	if !strings.HasPrefix(authorization, prefix) {
		return false
	}
	decoded, err := wire.Base64Decode(strings.TrimPrefix(authorization, prefix))
	if err != nil {
		return false
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}
	want, exists := v.users[user]
	if !exists {
		// Still run a comparison so a missing user takes the same time
		// as a present one with a wrong password.
		subtle.ConstantTimeCompare([]byte(pass), []byte(pass))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(want)) == 1
}

// digestParams holds the comma-separated key="value" pairs of an
// Authorization: Digest header.
type digestParams map[string]string

func (v *Verifier) verifyDigest(authorization, method, uri string) bool {
	const prefix = "Digest "
	if !strings.HasPrefix(authorization, prefix) {
		return false
	}
	params := parseDigestParams(strings.TrimPrefix(authorization, prefix))

	username := params["username"]
	nonce := params["nonce"]
	response := params["response"]
	if username == "" || nonce == "" || response == "" {
		return false
	}

	v.mu.Lock()
	currentNonce := v.nonce
	v.mu.Unlock()
	if nonce != currentNonce {
		return false
	}

	pass, ok := v.users[username]
	if !ok {
		return false
	}

	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", username, v.realm, pass))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))
	expected := md5Hex(fmt.Sprintf("%s:%s:%s", ha1, nonce, ha2))

	// Correct behavior per RFC 2617: compare the computed digest, not
	// the pre-MD5 concatenation the legacy implementation compared.
	return subtle.ConstantTimeCompare([]byte(expected), []byte(response)) == 1
}

func parseDigestParams(s string) digestParams {
	out := make(digestParams)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return out
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newNonce() string {
	b := make([]byte, 16) // 128 bits, per spec.md §9's minimum nonce strength
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is
		// broken; there is no sane fallback, so panic rather than
		// issue a predictable nonce.
		panic("auth: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
