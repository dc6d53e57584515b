// Package origin implements the browser Origin policy shared by the
// signaling WebSocket upgrade and the HTTP endpoints.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Wildcard in an allow list admits every origin.
const Wildcard = "*"

// Normalize validates a browser Origin header value and returns it as
// scheme://host[:port], lower-cased with the scheme's default port dropped.
// host is the host[:port] part. The opaque origin "null" is returned as-is
// with an empty host.
func Normalize(header string) (normalized, host string, ok bool) {
	header = strings.TrimSpace(header)
	switch header {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(header)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = authority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Policy decides which origins may talk to the relay.
type Policy struct {
	allowed map[string]struct{}
	any     bool
}

// NewPolicy builds a policy from normalized origins. An empty list means
// same host only.
func NewPolicy(allowed []string) Policy {
	p := Policy{allowed: make(map[string]struct{}, len(allowed))}
	for _, o := range allowed {
		if o == Wildcard {
			p.any = true
		}
		p.allowed[o] = struct{}{}
	}
	return p
}

func (p Policy) sameHostOnly() bool { return len(p.allowed) == 0 }

// Allows reports whether a normalized origin may access requestHost.
func (p Policy) Allows(normalized, originHost, requestHost string) bool {
	if !p.sameHostOnly() {
		if p.any {
			return true
		}
		_, ok := p.allowed[normalized]
		return ok
	}

	// Scheme is not compared: a TLS-terminating proxy makes https origins
	// arrive as plain http requests.
	scheme, _, found := strings.Cut(normalized, "://")
	if !found {
		return false
	}
	reqHost, ok := authority(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	return ok && reqHost == originHost
}

// Check applies the policy to r. Requests without an Origin header are not
// from a browser and pass with an empty origin.
func (p Policy) Check(r *http.Request) (normalized string, ok bool) {
	values := r.Header.Values("Origin")
	switch len(values) {
	case 0:
		return "", true
	case 1:
	default:
		return "", false
	}
	if strings.TrimSpace(values[0]) == "" {
		return "", true
	}
	normalized, host, ok := Normalize(values[0])
	if !ok || !p.Allows(normalized, host, r.Host) {
		return "", false
	}
	return normalized, true
}

// authority canonicalizes host[:port] for scheme.
func authority(raw, scheme string) (string, bool) {
	hostname, port, ok := splitHostPort(raw)
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	var n uint64
	if port != "" {
		var err error
		n, err = strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
	}
	if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
		n = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if n != 0 {
		host += ":" + strconv.FormatUint(n, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 literals must be bracketed; the
// brackets are stripped from hostname.
func splitHostPort(raw string) (hostname, port string, ok bool) {
	if raw == "" {
		return "", "", false
	}
	if rest, found := strings.CutPrefix(raw, "["); found {
		hostname, rest, found = strings.Cut(rest, "]")
		if !found {
			return "", "", false
		}
		if rest == "" {
			return hostname, "", true
		}
		port, found = strings.CutPrefix(rest, ":")
		return hostname, port, found && port != ""
	}

	switch strings.Count(raw, ":") {
	case 0:
		return raw, "", true
	case 1:
		hostname, port, _ = strings.Cut(raw, ":")
		return hostname, port, hostname != "" && port != ""
	default:
		return "", "", false
	}
}
