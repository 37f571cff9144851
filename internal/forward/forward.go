// Package forward carries selected inbound request headers to the remote
// schemas a request delegates to.
package forward

import (
	"context"
	"net/http"
)

type key struct{}

// NewContext returns a copy of parent carrying h.
func NewContext(parent context.Context, h http.Header) context.Context {
	if len(h) == 0 {
		return parent
	}
	return context.WithValue(parent, key{}, h)
}

// FromContext returns the headers stored by NewContext, or nil.
func FromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(key{}).(http.Header)
	return h
}

// Select copies the allowed headers present in src. Names are matched
// case-insensitively. An empty allow list selects nothing.
func Select(src http.Header, allow []string) http.Header {
	var out http.Header
	for _, name := range allow {
		values := src.Values(name)
		if len(values) == 0 {
			continue
		}
		if out == nil {
			out = make(http.Header, len(allow))
		}
		canonical := http.CanonicalHeaderKey(name)
		out[canonical] = append([]string(nil), values...)
	}
	return out
}

// Apply sets the headers carried by ctx on h, replacing existing values.
func Apply(ctx context.Context, h http.Header) {
	for name, values := range FromContext(ctx) {
		h[name] = append([]string(nil), values...)
	}
}
