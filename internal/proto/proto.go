// internal/proto/proto.go
package proto

import (
	"errors"
	"fmt"
)

// Tag is byte 0 of every datagram.
type Tag byte

const (
	TagJoin      Tag = 1
	TagIntroduce Tag = 2
	TagPing      Tag = 3
	TagPong      Tag = 4
	TagData      Tag = 5
)

const (
	// MaxDatagramSize is the largest UDP/IPv4 payload.
	MaxDatagramSize = 65507
	// MaxIntroduceSize bounds the "ip:port" text of an INTRODUCE body.
	MaxIntroduceSize = 64
)

var (
	ErrEmptyDatagram = errors.New("empty datagram")
	ErrUnknownTag    = errors.New("unknown message type")
	ErrShortBody     = errors.New("body too short")
	ErrTrailingBytes = errors.New("trailing bytes in body")
	ErrBadRoute      = errors.New("bad route")
	ErrBadAddress    = errors.New("bad address")
	ErrTooLarge      = errors.New("datagram too large")
)

func (t Tag) String() string {
	switch t {
	case TagJoin:
		return "join"
	case TagIntroduce:
		return "introduce"
	case TagPing:
		return "ping"
	case TagPong:
		return "pong"
	case TagData:
		return "data"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

func (t Tag) Known() bool {
	return t >= TagJoin && t <= TagData
}

// Route names the mesh a node takes part in. Only nodes with equal routes
// become peers. Route 0 is reserved and never valid on the wire.
type Route byte

const RouteSize = 1

func ParseRoute(b byte) (Route, error) {
	if b == 0 {
		return 0, ErrBadRoute
	}
	return Route(b), nil
}

func (r Route) Bytes() []byte {
	return []byte{byte(r)}
}

func (r Route) Valid() bool {
	return r != 0
}

func (r Route) String() string {
	return fmt.Sprintf("route-%d", byte(r))
}
