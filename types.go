package main

import (
	"errors"
	"fmt"
)

// Protocol is the application protocol inferred for the current connection.
// The numeric values are the codes the session state machine works with.
type Protocol int

const (
	ProtoUnset Protocol = 0
	ProtoTCP   Protocol = 1
	ProtoSSL   Protocol = 2
	ProtoHTTP  Protocol = 80
	ProtoHTTPS Protocol = 443
)

var protocolNames = map[Protocol]string{
	ProtoTCP:   "tcp",
	ProtoSSL:   "ssl",
	ProtoHTTP:  "http",
	ProtoHTTPS: "https",
}

// ErrUnknownProtocol reports a protocol code outside the name table at
// emission time. It means the state machine broke its own invariant.
var ErrUnknownProtocol = errors.New("unknown protocol code")

// Name returns the short identifier written into records.
func (p Protocol) Name() (string, error) {
	name, ok := protocolNames[p]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownProtocol, int(p))
	}
	return name, nil
}

// web reports whether the protocol has been promoted to HTTP or HTTPS.
func (p Protocol) web() bool {
	return p == ProtoHTTP || p == ProtoHTTPS
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	if p == ProtoUnset {
		return "unset"
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

// Flow identifies a TCP connection by its endpoints.
type Flow struct {
	SrcIP   string `json:"src_ip"`
	SrcPort string `json:"src_port"`
	DstIP   string `json:"dst_ip"`
	DstPort string `json:"dst_port"`
}

// Session is the single in-progress connection record. It is reset in place
// after an emission, never replaced.
type Session struct {
	Protocol Protocol
	// Flow is nil until the first connection line.
	Flow       *Flow
	Host       string
	HasHost    bool
	Referer    string
	HasReferer bool
}

// clearHeaders drops the per-request fields after an emission.
func (s *Session) clearHeaders() {
	s.Host, s.HasHost = "", false
	s.Referer, s.HasReferer = "", false
}

// Record is the serialized form of a completed session. Address fields are
// null when no connection line preceded the emission; host and referer are
// omitted when absent.
type Record struct {
	Protocol string  `json:"protocol"`
	SrcIP    *string `json:"src_ip"`
	SrcPort  *string `json:"src_port"`
	DstIP    *string `json:"dst_ip"`
	DstPort  *string `json:"dst_port"`
	Host     *string `json:"host,omitempty"`
	Referer  *string `json:"referer,omitempty"`
	FlowID   string  `json:"flow_id,omitempty"`
}

// Stats counts what the tracker did with its input.
type Stats struct {
	Lines       int64
	Ignored     int64
	Connections int64
	Promotions  int64
	Emitted     int64
}
