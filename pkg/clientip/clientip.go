// Package clientip resolves the address of the client behind an HTTP request.
//
// Proxy headers are consulted in order (CF-Connecting-IP, X-Forwarded-For,
// X-Real-IP) before falling back to RemoteAddr. Only deploy behind proxies
// that overwrite these headers: clients can set them freely.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

var proxyHeaders = []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"}

// FromRequest returns the normalized client IP, or "" when none is valid
func FromRequest(r *http.Request) string {
	for _, h := range proxyHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		// X-Forwarded-For lists the original client first
		for part := range strings.SplitSeq(v, ",") {
			if ip := normalize(part); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return normalize(r.RemoteAddr)
	}
	return normalize(host)
}

func normalize(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
