package resource

import (
	"net/http"
	"net/url"
	"strings"
)

// Key identifies a cache entry: request method plus normalised absolute URL.
type Key struct {
	Method string
	URL    string
}

// NewKey builds a Key from method and URL, normalising both.
func NewKey(method string, u *url.URL) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return Key{Method: method, URL: NormalizeURL(u)}
}

// String renders the key as "METHOD URL", the form used in logs and stores.
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// NormalizeURL lower-cases scheme/host, drops default ports and fragments and
// keeps the query verbatim, so equivalent URLs share one cache entry.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	clone := *u
	clone.Scheme = strings.ToLower(clone.Scheme)
	clone.Host = strings.ToLower(clone.Host)
	if port := clone.Port(); port != "" {
		if (clone.Scheme == "http" && port == "80") || (clone.Scheme == "https" && port == "443") {
			clone.Host = clone.Hostname()
		}
	}
	clone.Fragment = ""
	clone.RawFragment = ""
	clone.User = nil
	if clone.Path == "" && clone.Opaque == "" {
		clone.Path = "/"
	}
	return clone.String()
}

// SameOrigin reports whether a and b share scheme, host and port.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return originOf(a) == originOf(b)
}

func originOf(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return scheme + "://" + host + ":" + port
}
