package users

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
)

const (
	nonceExpiry   = 5 * time.Minute
	digestAlgoMD5 = "MD5"
)

// Authenticator performs HTTP Digest (RFC 2617/3261 §22) authentication of
// SIP requests against the user Repository, backed by HA1 digests rather
// than plaintext passwords, and enforces both per-user (Repository/User)
// and per-IP (IPGuard) lockout.
//
// icholy/digest builds the Challenge string and parses client credentials;
// the actual response comparison is computed by hand against the stored
// HA1 because icholy/digest.Digest requires a plaintext password, which
// this registrar never holds (see DESIGN.md).
type Authenticator struct {
	repo    *Repository
	realm   string
	log     *slog.Logger
	nonces  sync.Map // nonce -> issuedAt time.Time
	ipGuard *IPGuard
}

// NewAuthenticator creates an Authenticator for the given realm.
func NewAuthenticator(repo *Repository, realm string, log *slog.Logger) *Authenticator {
	if log == nil {
		log = slog.Default()
	}
	return &Authenticator{
		repo:    repo,
		realm:   realm,
		log:     log.With("subsystem", "auth"),
		ipGuard: NewIPGuard(log),
	}
}

// Challenge builds a fresh WWW-Authenticate header value, recording the
// nonce so a subsequent Authenticate call can validate it.
func (a *Authenticator) Challenge(stale bool) string {
	nonce := a.generateNonce()
	a.nonces.Store(nonce, time.Now())

	chal := digest.Challenge{
		Realm:     a.realm,
		Nonce:     nonce,
		Opaque:    "voicebridge",
		Algorithm: digestAlgoMD5,
		Stale:     stale,
	}
	return chal.String()
}

// Authenticate validates the Authorization header of req against the
// directory. On success it returns the matched User. On failure it returns
// either ErrAccountLocked with an empty challenge (account/IP currently
// locked out — caller should send 403, not a challenge) or
// ErrChallengeRequired with a fresh challenge string to send back as
// WWW-Authenticate (any other failure — caller should send 401).
func (a *Authenticator) Authenticate(req *sip.Request) (*User, string, error) {
	source := req.Source()

	if a.ipGuard.IsBlocked(source) {
		a.log.Warn("sip auth rejected: source ip blocked", "source", source)
		return nil, "", ErrAccountLocked
	}

	h := req.GetHeader("Authorization")
	if h == nil {
		return nil, a.Challenge(false), ErrChallengeRequired
	}

	cred, err := digest.ParseCredentials(h.Value())
	if err != nil {
		a.log.Warn("failed to parse authorization header", "error", err, "source", source)
		a.ipGuard.RecordFailure(source)
		return nil, a.Challenge(false), ErrChallengeRequired
	}

	issuedAt, known := a.nonces.Load(cred.Nonce)
	if !known {
		a.log.Debug("unknown nonce, re-challenging", "username", cred.Username, "source", source)
		return nil, a.Challenge(false), ErrChallengeRequired
	}
	if time.Since(issuedAt.(time.Time)) > nonceExpiry {
		a.nonces.Delete(cred.Nonce)
		a.log.Debug("stale nonce, re-challenging", "username", cred.Username, "source", source)
		return nil, a.Challenge(true), ErrChallengeRequired
	}

	user, ok := a.repo.Get(cred.Username)
	if !ok {
		a.log.Warn("unknown sip username", "username", cred.Username, "source", source)
		a.ipGuard.RecordFailure(source)
		return nil, a.Challenge(false), ErrChallengeRequired
	}

	now := time.Now()
	if user.locked(now) {
		a.log.Warn("sip auth rejected: user locked", "username", user.Username)
		return nil, "", ErrAccountLocked
	}

	expected := computeResponse(user.HA1, string(req.Method), cred.URI, cred.Nonce)
	if cred.Response != expected {
		a.log.Warn("digest auth failed", "username", cred.Username, "source", source)
		user.RecordFailure(now)
		a.ipGuard.RecordFailure(source)
		return nil, a.Challenge(false), ErrChallengeRequired
	}

	a.nonces.Delete(cred.Nonce)
	user.RecordSuccess(now)
	a.ipGuard.RecordSuccess(source)

	a.log.Debug("digest auth successful", "username", cred.Username)
	return user, "", nil
}

// CleanExpiredNonces removes nonces older than nonceExpiry and runs IPGuard
// cleanup. Intended to run on a periodic ticker alongside other registrar
// housekeeping.
func (a *Authenticator) CleanExpiredNonces() {
	now := time.Now()
	a.nonces.Range(func(key, value any) bool {
		if now.Sub(value.(time.Time)) > nonceExpiry {
			a.nonces.Delete(key)
		}
		return true
	})
	a.ipGuard.Cleanup()
}

// IPGuard exposes the per-IP brute-force guard for admin visibility.
func (a *Authenticator) IPGuard() *IPGuard {
	return a.ipGuard
}

func (a *Authenticator) generateNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// computeResponse implements RFC 2617 digest response computation without
// qop: response = MD5(HA1:nonce:HA2), where HA2 = MD5(method:uri). HA1 is
// the stored precomputed MD5(username:realm:password).
func computeResponse(ha1, method, uri, nonce string) string {
	ha2 := md5Hex(method + ":" + uri)
	return md5Hex(ha1 + ":" + nonce + ":" + ha2)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
