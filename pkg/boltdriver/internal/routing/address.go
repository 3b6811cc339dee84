// Package routing implements the per-(database, impersonated-user)
// routing table cache and its ROUTE-message refresh procedure, per
// spec.md §4.D.
package routing

import (
	"strconv"
	"strings"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
)

// ParseAddress strips any URI scheme and IPv6 brackets from raw and
// returns a plain "host:port" string, defaulting the port to
// defaultPort if raw carries none. It parses the server addresses in a
// ROUTE response; boltdriver/uri.go normalizes URI hosts with its own
// normalizeHost.
func ParseAddress(raw string, defaultPort int) (string, error) {
	s := raw
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+3:]
	}
	if idx := strings.IndexByte(s, '@'); idx >= 0 {
		s = s[idx+1:]
	}

	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", errs.New(errs.InvalidArgument, "unterminated IPv6 literal in address %q", raw)
		}
		host := s[1:end]
		rest := s[end+1:]
		port := defaultPort
		if strings.HasPrefix(rest, ":") {
			p, err := strconv.Atoi(rest[1:])
			if err != nil {
				return "", errs.Wrap(errs.InvalidArgument, err, "invalid port in address %q", raw)
			}
			port = p
		}
		return "[" + host + "]:" + strconv.Itoa(port), nil
	}

	if idx := strings.LastIndexByte(s, ':'); idx >= 0 {
		host := s[:idx]
		p, err := strconv.Atoi(s[idx+1:])
		if err != nil {
			return "", errs.Wrap(errs.InvalidArgument, err, "invalid port in address %q", raw)
		}
		return host + ":" + strconv.Itoa(p), nil
	}
	return s + ":" + strconv.Itoa(defaultPort), nil
}
