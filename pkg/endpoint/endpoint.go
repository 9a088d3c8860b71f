package endpoint

import (
	"fmt"
	"net/netip"
	"strings"
)

// Protocol is the underlay transport used to reach a peer.
type Protocol string

const (
	TCP  Protocol = "tcp"
	Quic Protocol = "quic"
)

// DefaultProtocol is assumed when the text carries no "<proto>://" prefix.
const DefaultProtocol = TCP

// Endpoint identifies a peer by underlay protocol and socket address.
// It is comparable and can be used as a map key.
type Endpoint struct {
	Proto Protocol
	Addr  netip.AddrPort
}

// ParseError reports why an endpoint string was rejected.
type ParseError struct {
	Input string
	Msg   string
}

func (e *ParseError) Error() string { return e.Msg }

// Parse accepts "<proto>://<ip>:<port>" or a bare "<ip>:<port>" which
// defaults to tcp. IPv6 addresses must be bracketed.
func Parse(text string) (Endpoint, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Endpoint{}, &ParseError{Input: text, Msg: "empty endpoint"}
	}

	proto := DefaultProtocol
	addr := s
	if scheme, rest, ok := strings.Cut(s, "://"); ok {
		p, err := parseProtocol(scheme)
		if err != nil {
			return Endpoint{}, &ParseError{Input: text, Msg: err.Error()}
		}
		proto, addr = p, rest
	}

	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return Endpoint{}, &ParseError{
			Input: text,
			Msg:   fmt.Sprintf("invalid socket address %q: %v", addr, err),
		}
	}
	// IPv4-mapped IPv6 and plain IPv4 must compare equal.
	ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	return Endpoint{Proto: proto, Addr: ap}, nil
}

// MustParse is Parse for static inputs; it panics on error.
func MustParse(text string) Endpoint {
	ep, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return ep
}

func parseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(s)); p {
	case TCP, Quic:
		return p, nil
	default:
		return "", fmt.Errorf("invalid protocol %q", s)
	}
}

// String returns the canonical form, e.g. "tcp://203.0.113.5:9651".
func (e Endpoint) String() string {
	if !e.Addr.IsValid() {
		return ""
	}
	return string(e.Proto) + "://" + e.Addr.String()
}

// IsValid reports whether e holds a parsed address.
func (e Endpoint) IsValid() bool { return e.Addr.IsValid() && e.Proto != "" }

func (e Endpoint) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Endpoint) UnmarshalText(b []byte) error {
	ep, err := Parse(string(b))
	if err != nil {
		return err
	}
	*e = ep
	return nil
}
