package boltdriver

import "github.com/orneryd/nornicdb/pkg/boltdriver/internal/conn"

// AuthToken is the HELLO/LOGON credential payload, per spec.md §3
// ConnectionConfig's "auth token (none | basic | bearer | kerberos |
// custom scheme+principal+credentials+realm+map)".
type AuthToken struct {
	scheme string
	fields map[string]any
}

// NoAuth returns a token that authenticates as the "none" scheme.
func NoAuth() AuthToken {
	return AuthToken{scheme: "none", fields: map[string]any{"scheme": "none"}}
}

// BasicAuth authenticates with a username and password, optionally
// against a non-default realm (empty string means none).
func BasicAuth(username, password, realm string) AuthToken {
	f := map[string]any{"scheme": "basic", "principal": username, "credentials": password}
	if realm != "" {
		f["realm"] = realm
	}
	return AuthToken{scheme: "basic", fields: f}
}

// BearerAuth authenticates with a single-sign-on bearer token.
func BearerAuth(token string) AuthToken {
	return AuthToken{scheme: "bearer", fields: map[string]any{"scheme": "bearer", "credentials": token}}
}

// KerberosAuth authenticates with a Kerberos ticket.
func KerberosAuth(ticket string) AuthToken {
	return AuthToken{scheme: "kerberos", fields: map[string]any{"scheme": "kerberos", "credentials": ticket}}
}

// CustomAuth authenticates with an arbitrary scheme, principal,
// credentials, realm, and additional parameters map, per spec.md §3.
func CustomAuth(scheme, principal, credentials, realm string, parameters map[string]any) AuthToken {
	f := map[string]any{"scheme": scheme}
	if principal != "" {
		f["principal"] = principal
	}
	if credentials != "" {
		f["credentials"] = credentials
	}
	if realm != "" {
		f["realm"] = realm
	}
	if parameters != nil {
		f["parameters"] = parameters
	}
	return AuthToken{scheme: scheme, fields: f}
}

// toConnToken converts the public AuthToken into the shape internal/conn
// merges into HELLO or LOGON.
func (a AuthToken) toConnToken() conn.AuthToken {
	out := make(conn.AuthToken, len(a.fields))
	for k, v := range a.fields {
		out[k] = v
	}
	return out
}
