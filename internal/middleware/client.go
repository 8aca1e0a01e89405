package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

const ClientIPKey contextKey = "client_ip"

// ClientAddress resolves the caller's address once per request. X-Forwarded-For
// and X-Real-IP are only read when the connection comes from a trusted proxy;
// the forwarded chain is walked right to left, skipping trusted hops.
func (m *Middleware) ClientAddress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), ClientIPKey, m.clientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) clientIP(r *http.Request) string {
	remote := remoteHost(r)
	if !m.trusted(remote) {
		return remote
	}

	if forwarded := r.Header.Values("X-Forwarded-For"); len(forwarded) > 0 {
		hops := strings.Split(strings.Join(forwarded, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				break
			}
			if i == 0 || !m.trusted(hop) {
				return hop
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
		return realIP
	}
	return remote
}

func (m *Middleware) trusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range m.proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the address resolved by ClientAddress, or the connection's
// remote host when the request did not pass through it.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ClientIPKey).(string); ok && ip != "" {
		return ip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
