// Package websocket implements the server side of RFC 6455 (version 13) on
// hijacked HTTP connections: handshake, frame codec, clients and the
// per-endpoint Container registry.
package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// GUID is appended to the client key before hashing.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// RejectResponse is written when a handshake is refused.
const RejectResponse = "HTTP/1.1 403 Forbidden\r\nConnection: close\r\nX-WebSocket-Reject-Reason: 403 Forbidden\r\n\r\n"

var (
	ErrVersion  = errors.New("websocket: unsupported version")
	ErrOrigin   = errors.New("websocket: origin not allowed")
	ErrProtocol = errors.New("websocket: protocol not offered")
	ErrKey      = errors.New("websocket: missing key")
	ErrUpgrade  = errors.New("websocket: not an upgrade request")
)

// SupportedVersions lists the accepted Sec-WebSocket-Version values.
var SupportedVersions = []int{13}

// Policy restricts which handshakes are accepted.
type Policy struct {
	// Origins allowed to connect; "*" or an empty list allows any.
	// An entry matches when the Origin header contains it.
	Origins []string
	// Protocols that the client must all request.
	Protocols []string
}

// IsUpgrade reports whether r asks for a WebSocket upgrade.
func IsUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		headerContains(r.Header, "Connection", "upgrade")
}

// RequestedProtocols parses Sec-WebSocket-Protocol.
func RequestedProtocols(r *http.Request) []string {
	raw := r.Header.Get("Sec-WebSocket-Protocol")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Check validates version, origin and protocols of r against p.
func (p Policy) Check(r *http.Request) error {
	v, err := strconv.Atoi(strings.TrimSpace(r.Header.Get("Sec-WebSocket-Version")))
	if err != nil || !slices.Contains(SupportedVersions, v) {
		return ErrVersion
	}
	if r.Header.Get("Sec-WebSocket-Key") == "" {
		return ErrKey
	}

	if len(p.Origins) > 0 && !slices.Contains(p.Origins, "*") {
		origin := r.Header.Get("Origin")
		ok := false
		for _, allowed := range p.Origins {
			if allowed != "" && strings.Contains(origin, allowed) {
				ok = true
				break
			}
		}
		if !ok {
			return ErrOrigin
		}
	}

	if len(p.Protocols) > 0 {
		requested := RequestedProtocols(r)
		for _, proto := range p.Protocols {
			if !slices.Contains(requested, proto) {
				return ErrProtocol
			}
		}
	}
	return nil
}

// AcceptKey computes Sec-WebSocket-Accept for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(GUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Protocol returns the policy protocol echoed to the client: the first one
// the client requested, or "" when the policy has none.
func (p Policy) Protocol(r *http.Request) string {
	requested := RequestedProtocols(r)
	for _, proto := range p.Protocols {
		if slices.Contains(requested, proto) {
			return proto
		}
	}
	return ""
}

// SwitchingProtocols builds the raw 101 response. A non-empty protocol is
// sent as Sec-WebSocket-Protocol.
func SwitchingProtocols(key, protocol string) []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: ")
	b.WriteString(AcceptKey(key))
	b.WriteString("\r\n")
	if protocol != "" {
		b.WriteString("Sec-WebSocket-Protocol: ")
		b.WriteString(protocol)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func headerContains(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
