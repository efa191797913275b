package resource

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Destination mirrors the Sec-Fetch-Dest request header.
type Destination string

const (
	DestinationEmpty    Destination = ""
	DestinationDocument Destination = "document"
	DestinationStyle    Destination = "style"
	DestinationScript   Destination = "script"
	DestinationFont     Destination = "font"
	DestinationImage    Destination = "image"
)

// Mode mirrors the Sec-Fetch-Mode request header.
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeNoCORS     Mode = "no-cors"
	ModeCORS       Mode = "cors"
)

// Request describes one intercepted resource request.
type Request struct {
	Method      string
	URL         *url.URL
	Header      http.Header
	Body        []byte
	Destination Destination
	Mode        Mode
}

// NewRequest parses rawURL, which must be absolute.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("request url must be absolute: %s", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: http.Header{},
	}, nil
}

// Key returns the cache key of the request.
func (r *Request) Key() Key {
	return NewKey(r.Method, r.URL)
}

// IsNavigation reports whether the request loads a full document.
func (r *Request) IsNavigation() bool {
	return r.Destination == DestinationDocument || r.Mode == ModeNavigate
}

// Host returns the lower-cased target hostname without port.
func (r *Request) Host() string {
	if r == nil || r.URL == nil {
		return ""
	}
	return strings.ToLower(r.URL.Hostname())
}
