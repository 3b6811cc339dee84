package boltdriver

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
)

const defaultBoltPort = 7687

// EncryptionPolicy selects how a connection negotiates TLS, per spec.md
// §3 ConnectionConfig.
type EncryptionPolicy int

const (
	// EncryptionFromScheme derives the policy from the URI scheme suffix
	// (+s => EncryptionSystemCA, +ssc => EncryptionTrustAll, no suffix =>
	// EncryptionPlaintext). This is the default.
	EncryptionFromScheme EncryptionPolicy = iota
	EncryptionPlaintext
	EncryptionSystemCA
	EncryptionTrustAll
	EncryptionCustomCA
)

// ParsedURI is the minimal grammar from spec.md §6.2:
// scheme://[user[:password]@]host[:port][,host[:port]...][/?key=value(&key=value)*]
type ParsedURI struct {
	Routing    bool // true for neo4j/neo4j+s/neo4j+ssc schemes
	Encryption EncryptionPolicy
	Hosts      []string // "host:port", port defaulted per scheme
	Username   string
	Password   string
	Query      map[string]string
}

// ParseURI parses raw per spec.md §6.2. Multiple comma-separated hosts are
// only legal for routing schemes.
func ParseURI(raw string) (*ParsedURI, error) {
	schemeEnd := strings.Index(raw, "://")
	if schemeEnd < 0 {
		return nil, errs.New(errs.InvalidArgument, "URI %q missing scheme", raw)
	}
	scheme := raw[:schemeEnd]
	rest := raw[schemeEnd+3:]

	routing, encryption, err := parseScheme(scheme)
	if err != nil {
		return nil, err
	}

	authority, path := rest, ""
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		authority, path = rest[:idx], rest[idx+1:]
	} else if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		authority, path = rest[:idx], rest[idx+1:]
	}

	userinfo, hostpart := "", authority
	if idx := strings.IndexByte(authority, '@'); idx >= 0 {
		userinfo, hostpart = authority[:idx], authority[idx+1:]
	}

	username, password, err := parseUserinfo(userinfo)
	if err != nil {
		return nil, err
	}

	hostStrs := strings.Split(hostpart, ",")
	if !routing && len(hostStrs) > 1 {
		return nil, errs.New(errs.InvalidArgument, "multiple hosts are only legal for routing schemes, got %q", raw)
	}
	hosts := make([]string, 0, len(hostStrs))
	for _, h := range hostStrs {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		hosts = append(hosts, normalizeHost(h, defaultBoltPort))
	}
	if len(hosts) == 0 {
		return nil, errs.New(errs.InvalidArgument, "URI %q has no host", raw)
	}

	query, err := parseQuery(path)
	if err != nil {
		return nil, err
	}

	return &ParsedURI{
		Routing:    routing,
		Encryption: encryption,
		Hosts:      hosts,
		Username:   username,
		Password:   password,
		Query:      query,
	}, nil
}

func parseScheme(scheme string) (routing bool, enc EncryptionPolicy, err error) {
	base := scheme
	switch {
	case strings.HasSuffix(scheme, "+s"):
		enc = EncryptionSystemCA
		base = strings.TrimSuffix(scheme, "+s")
	case strings.HasSuffix(scheme, "+ssc"):
		enc = EncryptionTrustAll
		base = strings.TrimSuffix(scheme, "+ssc")
	default:
		enc = EncryptionPlaintext
	}
	switch base {
	case "bolt":
		return false, enc, nil
	case "neo4j":
		return true, enc, nil
	default:
		return false, 0, errs.New(errs.InvalidArgument, "unsupported URI scheme %q", scheme)
	}
}

// parseUserinfo decodes "user[:password]", percent-decoded per spec.md
// §6.2, before splitting on ':' — resolved per the percent-decoding order
// used by the grammar this was distilled from (see SUPPLEMENTED FEATURES
// in SPEC_FULL.md).
func parseUserinfo(userinfo string) (user, pass string, err error) {
	if userinfo == "" {
		return "", "", nil
	}
	decoded, err := url.PathUnescape(userinfo)
	if err != nil {
		return "", "", errs.Wrap(errs.InvalidArgument, err, "invalid percent-encoding in userinfo")
	}
	if idx := strings.IndexByte(decoded, ':'); idx >= 0 {
		return decoded[:idx], decoded[idx+1:], nil
	}
	return decoded, "", nil
}

func normalizeHost(h string, defaultPort int) string {
	if strings.HasPrefix(h, "[") {
		end := strings.IndexByte(h, ']')
		if end < 0 {
			return h
		}
		rest := h[end+1:]
		if strings.HasPrefix(rest, ":") {
			return h
		}
		return h[:end+1] + ":" + strconv.Itoa(defaultPort)
	}
	if strings.Contains(h, ":") {
		return h
	}
	return h + ":" + strconv.Itoa(defaultPort)
}

// parseQuery decodes "key=value(&key=value)*" with '+' -> space in values,
// applied after splitting on '&'/'=' per the grammar this was distilled
// from.
func parseQuery(path string) (map[string]string, error) {
	q := path
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		q = path[idx+1:]
	} else if !strings.Contains(path, "=") {
		return map[string]string{}, nil
	}
	out := map[string]string{}
	if q == "" {
		return out, nil
	}
	for _, pair := range strings.Split(q, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		dk, err := url.QueryUnescape(strings.ReplaceAll(k, "+", " "))
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, err, "invalid percent-encoding in query key %q", k)
		}
		dv, err := url.QueryUnescape(strings.ReplaceAll(v, "+", " "))
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, err, "invalid percent-encoding in query value %q", v)
		}
		out[dk] = dv
	}
	return out, nil
}
