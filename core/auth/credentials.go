package auth

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrNoCredential is returned when a request carries no usable credential.
	ErrNoCredential = errors.New("no credential found in header or query")
	// ErrMalformedHeader is returned for an Authorization header that is not "Bearer <token>".
	ErrMalformedHeader = errors.New("invalid authorization header format")
)

// Source records where a credential was found.
type Source string

const (
	SourceHeader Source = "header"
	SourceQuery  Source = "query"
)

// Credential is an opaque secret together with where it came from.
type Credential struct {
	Value  string
	Source Source
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrNoCredential
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || scheme != "Bearer" || token == "" {
		return "", ErrMalformedHeader
	}
	return token, nil
}

// CookieValue returns the value of the named cookie from a raw Cookie
// header, or "" if absent. Cookies identify a caller but are never a
// credential, so FromRequest does not consult them.
func CookieValue(header, name string) string {
	if header == "" || name == "" {
		return ""
	}
	for _, part := range strings.Split(header, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if found && key == name {
			return value
		}
	}
	return ""
}

// QueryValue returns the first non-empty value among keys. Connection URIs
// carry credentials this way because browsers cannot set headers on a
// WebSocket handshake.
func QueryValue(q url.Values, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// Options selects which query keys FromRequest consults. None disables the
// query source.
type Options struct {
	QueryKeys []string
}

// FromRequest looks for a credential in the Authorization header, then the
// query string. A malformed header is reported as an error
// instead of falling through, so a client that meant to send a header does
// not silently authenticate with something else.
func FromRequest(r *http.Request, opts Options) (Credential, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, err := BearerToken(header)
		if err != nil {
			return Credential{}, err
		}
		return Credential{Value: token, Source: SourceHeader}, nil
	}

	if len(opts.QueryKeys) > 0 {
		if v := QueryValue(r.URL.Query(), opts.QueryKeys...); v != "" {
			return Credential{Value: v, Source: SourceQuery}, nil
		}
	}

	return Credential{}, ErrNoCredential
}
