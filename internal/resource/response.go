package resource

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Type mirrors the fetch response type.
type Type string

const (
	// TypeBasic is a same-origin response whose status and body are inspectable.
	TypeBasic Type = "basic"
	// TypeCORS is a cross-origin response the remote host shared via CORS.
	TypeCORS Type = "cors"
	// TypeOpaque is a cross-origin response fetched without CORS.
	TypeOpaque Type = "opaque"
	// TypeDefault is a response synthesised locally.
	TypeDefault Type = "default"
)

// Source records where a served response came from.
type Source string

const (
	SourceNetwork  Source = "network"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// ErrBodyUsed is returned when a consumed body is read or cloned again.
var ErrBodyUsed = errors.New("response body already used")

// Response is a response snapshot with a single-read body.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Type       Type
	URL        string
	Source     Source

	body io.ReadCloser
	used bool
}

// NewResponse wraps body; a nil body is treated as empty.
func NewResponse(status int, header http.Header, body io.ReadCloser) *Response {
	if header == nil {
		header = http.Header{}
	}
	if body == nil {
		body = http.NoBody
	}
	return &Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     header,
		Type:       TypeDefault,
		body:       body,
	}
}

// NewBytesResponse builds a Response over an in-memory body.
func NewBytesResponse(status int, header http.Header, body []byte) *Response {
	return NewResponse(status, header, io.NopCloser(bytes.NewReader(body)))
}

// Offline is the substitute served when a generic resource is unreachable.
func Offline() *Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain;charset=UTF-8")
	resp := NewBytesResponse(http.StatusServiceUnavailable, header, []byte("Offline"))
	resp.StatusText = "Service Unavailable"
	resp.Source = SourceFallback
	return resp
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// BodyUsed reports whether the body has been handed out or read.
func (r *Response) BodyUsed() bool {
	return r.used
}

// Body hands out the body reader. It can be called once.
func (r *Response) Body() (io.ReadCloser, error) {
	if r.used {
		return nil, ErrBodyUsed
	}
	r.used = true
	return r.body, nil
}

// Bytes reads and closes the body.
func (r *Response) Bytes() ([]byte, error) {
	body, err := r.Body()
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}

// Close releases an unread body.
func (r *Response) Close() error {
	if r == nil || r.used {
		return nil
	}
	r.used = true
	return r.body.Close()
}

// Clone buffers the body and returns an independent copy. Both r and the
// clone stay readable afterwards.
func (r *Response) Clone() (*Response, error) {
	if r.used {
		return nil, ErrBodyUsed
	}
	data, err := io.ReadAll(r.body)
	closeErr := r.body.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		r.used = true
		return nil, fmt.Errorf("clone response body: %w", err)
	}
	r.body = io.NopCloser(bytes.NewReader(data))

	clone := *r
	clone.Header = r.Header.Clone()
	clone.body = io.NopCloser(bytes.NewReader(data))
	return &clone, nil
}
