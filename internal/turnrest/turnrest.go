// Package turnrest issues coturn "use-auth-secret" TURN credentials for the
// ICE server list handed to browsers.
//
//	username   = <unix expiry>:<prefix>:<nonce>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

var (
	ErrMissingSecret = errors.New("turnrest: shared secret is required")
	ErrInvalidTTL    = errors.New("turnrest: ttl must be positive")
	ErrInvalidPrefix = errors.New("turnrest: username prefix must be non-empty and must not contain ':'")
	ErrInvalidNonce  = errors.New("turnrest: nonce must be non-empty and must not contain ':'")
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	// Now and Nonce are overridable for tests.
	Now   func() time.Time
	Nonce func() string
}

type Generator struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
	nonce  func() string
}

func NewGenerator(cfg Config) (*Generator, error) {
	switch {
	case cfg.SharedSecret == "":
		return nil, ErrMissingSecret
	case cfg.TTL < time.Second:
		return nil, ErrInvalidTTL
	case cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":"):
		return nil, ErrInvalidPrefix
	}
	g := &Generator{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTL,
		prefix: cfg.UsernamePrefix,
		now:    cfg.Now,
		nonce:  cfg.Nonce,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.nonce == nil {
		g.nonce = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	}
	return g, nil
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

// Issue mints credentials for nonce, valid until now+TTL.
func (g *Generator) Issue(nonce string) (Credentials, error) {
	if nonce == "" || strings.Contains(nonce, ":") {
		return Credentials{}, ErrInvalidNonce
	}
	expires := g.now().UTC().Add(g.ttl).Truncate(time.Second)
	username := strconv.FormatInt(expires.Unix(), 10) + ":" + g.prefix + ":" + nonce

	mac := hmac.New(sha1.New, g.secret)
	_, _ = mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		Expires:    expires,
	}, nil
}

// Stamp returns a copy of servers in which every entry with a TURN URL
// carries one freshly issued credential pair. Entries without TURN URLs are
// passed through untouched.
func (g *Generator) Stamp(servers []webrtc.ICEServer) ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, len(servers))
	copy(out, servers)

	var creds *Credentials
	for i := range out {
		if !HasTURNURL(out[i]) {
			continue
		}
		if creds == nil {
			c, err := g.Issue(g.nonce())
			if err != nil {
				return nil, err
			}
			creds = &c
		}
		out[i].Username = creds.Username
		out[i].Credential = creds.Credential
	}
	return out, nil
}

// HasTURNURL reports whether any of server's URLs is a turn: or turns: URI.
func HasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u, err := stun.ParseURI(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		if u.Scheme == stun.SchemeTypeTURN || u.Scheme == stun.SchemeTypeTURNS {
			return true
		}
	}
	return false
}
