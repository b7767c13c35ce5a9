package proto

import (
	"fmt"
	"net/netip"
	"unicode/utf8"

	"pulsar/internal/crypto"
)

// Hello is the body shared by PING and PONG.
type Hello struct {
	Route  Route
	PubKey crypto.PublicKey
}

const helloSize = RouteSize + crypto.KeySize

// SplitTag separates the type tag from the body. Unknown tags are reported
// with ErrUnknownTag alongside the tag so callers can log it.
func SplitTag(data []byte) (Tag, []byte, error) {
	if len(data) == 0 {
		return 0, nil, ErrEmptyDatagram
	}
	tag := Tag(data[0])
	if !tag.Known() {
		return tag, nil, ErrUnknownTag
	}
	return tag, data[1:], nil
}

func EncodeJoin(route Route) []byte {
	return append([]byte{byte(TagJoin)}, route.Bytes()...)
}

func DecodeJoin(body []byte) (Route, error) {
	if len(body) < RouteSize {
		return 0, ErrShortBody
	}
	if len(body) > RouteSize {
		return 0, ErrTrailingBytes
	}
	return ParseRoute(body[0])
}

func EncodeIntroduce(addr netip.AddrPort) []byte {
	text := addr.String()
	out := make([]byte, 0, 1+len(text))
	out = append(out, byte(TagIntroduce))
	return append(out, text...)
}

// DecodeIntroduce accepts only a literal IPv4 "ip:port"; host names are
// refused so that a datagram can never trigger a resolver lookup.
func DecodeIntroduce(body []byte) (netip.AddrPort, error) {
	if len(body) == 0 {
		return netip.AddrPort{}, ErrShortBody
	}
	if len(body) > MaxIntroduceSize {
		return netip.AddrPort{}, fmt.Errorf("%w: %d bytes", ErrBadAddress, len(body))
	}
	if !utf8.Valid(body) {
		return netip.AddrPort{}, fmt.Errorf("%w: not utf-8", ErrBadAddress)
	}
	ap, err := netip.ParseAddrPort(string(body))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	if !ap.Addr().Is4() || ap.Port() == 0 {
		return netip.AddrPort{}, fmt.Errorf("%w: %s", ErrBadAddress, ap)
	}
	return ap, nil
}

func EncodePing(route Route, pub crypto.PublicKey) []byte {
	return encodeHello(TagPing, route, pub)
}

func EncodePong(route Route, pub crypto.PublicKey) []byte {
	return encodeHello(TagPong, route, pub)
}

func encodeHello(tag Tag, route Route, pub crypto.PublicKey) []byte {
	out := make([]byte, 0, 1+helloSize)
	out = append(out, byte(tag))
	out = append(out, route.Bytes()...)
	return append(out, pub[:]...)
}

func DecodeHello(body []byte) (Hello, error) {
	if len(body) < helloSize {
		return Hello{}, ErrShortBody
	}
	if len(body) > helloSize {
		return Hello{}, ErrTrailingBytes
	}
	route, err := ParseRoute(body[0])
	if err != nil {
		return Hello{}, err
	}
	var h Hello
	h.Route = route
	copy(h.PubKey[:], body[RouteSize:])
	return h, nil
}

// EncodeData frames an already sealed payload (see crypto.Seal).
func EncodeData(pub crypto.PublicKey, sealed []byte) ([]byte, error) {
	size := 1 + crypto.KeySize + len(sealed)
	if size > MaxDatagramSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	out := make([]byte, 0, size)
	out = append(out, byte(TagData))
	out = append(out, pub[:]...)
	return append(out, sealed...), nil
}

func DecodeData(body []byte) (crypto.PublicKey, []byte, error) {
	if len(body) < crypto.KeySize+crypto.Overhead {
		return crypto.PublicKey{}, nil, ErrShortBody
	}
	var pub crypto.PublicKey
	copy(pub[:], body[:crypto.KeySize])
	return pub, body[crypto.KeySize:], nil
}
