package resource

import (
	"net/http"
	"net/textproto"
)

// transportHeaders 由网络层管理，不属于请求语义，缓存比较时忽略。
var transportHeaders = map[string]struct{}{
	"Accept-Encoding":   {},
	"Connection":        {},
	"Host":              {},
	"Keep-Alive":        {},
	"Proxy-Connection":  {},
	"Te":                {},
	"Trailer":           {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
}

// IsTransportHeader reports whether name is managed by the network layer.
func IsTransportHeader(name string) bool {
	_, ok := transportHeaders[textproto.CanonicalMIMEHeaderKey(name)]
	return ok
}

// StripTransportHeaders removes transport-managed headers from h in place.
func StripTransportHeaders(h http.Header) {
	for name := range h {
		if IsTransportHeader(name) {
			delete(h, name)
		}
	}
}
