// Package infoproto implements the text based info protocol used to query
// cluster state from a server node.  A request is an 8 byte header followed
// by newline terminated command names; the response carries the same header
// followed by newline separated `name\tvalue` lines.
package infoproto

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/stellarkv/stellar-client/utils/bufpool"
)

const (
	HeaderSize = 8

	ProtoVersion uint8 = 2
	MsgTypeInfo  uint8 = 1

	lengthMask = (uint64(1) << 48) - 1

	// MaxBodySize bounds a response body.  Larger lengths only come from a
	// corrupt or desynchronised stream.
	MaxBodySize = 16 << 20
)

var (
	ErrShortHeader  = errors.New("info header must be 8 bytes")
	ErrBadHeader    = errors.New("unexpected info header version or type")
	ErrBodyTooLarge = errors.New("info response body too large")
)

// EncodeHeader packs the protocol version, message type and body length into
// a single big-endian 64 bit word.
func EncodeHeader(bodyLen int) uint64 {
	return uint64(ProtoVersion)<<56 | uint64(MsgTypeInfo)<<48 | (uint64(bodyLen) & lengthMask)
}

func DecodeHeader(hdr []byte) (version uint8, msgType uint8, bodyLen uint64, err error) {
	if len(hdr) < HeaderSize {
		return 0, 0, 0, ErrShortHeader
	}

	word := binary.BigEndian.Uint64(hdr)
	return uint8(word >> 56), uint8(word >> 48), word & lengthMask, nil
}

// EncodeRequest appends a full request (header and body) for the given
// commands onto dst.  Every command is newline terminated.
func EncodeRequest(dst []byte, commands ...string) []byte {
	bodyLen := 0
	for _, cmd := range commands {
		bodyLen += len(cmd) + 1
	}

	dst = binary.BigEndian.AppendUint64(dst, EncodeHeader(bodyLen))
	for _, cmd := range commands {
		dst = append(dst, cmd...)
		dst = append(dst, '\n')
	}

	return dst
}

// EncodeResponse builds a response frame for the given name/value pairs.  It
// exists for test servers; names are written in sorted order so the output is
// deterministic.
func EncodeResponse(pairs map[string]string) []byte {
	names := make([]string, 0, len(pairs))
	for name := range pairs {
		names = append(names, name)
	}
	sort.Strings(names)

	var body bytes.Buffer
	for _, name := range names {
		body.WriteString(name)
		body.WriteByte('\t')
		body.WriteString(pairs[name])
		body.WriteByte('\n')
	}

	out := binary.BigEndian.AppendUint64(nil, EncodeHeader(body.Len()))
	return append(out, body.Bytes()...)
}

// ParseRequestBody splits a request body back into its command names.
func ParseRequestBody(body []byte) []string {
	var commands []string
	for _, line := range strings.Split(string(body), "\n") {
		if line == "" {
			continue
		}
		commands = append(commands, line)
	}
	return commands
}

// ParseResponse decodes a response body.  Lines are split on the first tab;
// a line with no tab maps its name to the empty string.
func ParseResponse(body []byte) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(string(body), "\n") {
		if line == "" {
			continue
		}

		name, value, _ := strings.Cut(line, "\t")
		out[name] = value
	}
	return out
}

// Request performs a single blocking info round trip over rw.  Buffers are
// borrowed from pool, which may be nil.  Deadlines are the caller's concern.
func Request(rw io.ReadWriter, pool *bufpool.Pool, commands ...string) (map[string]string, error) {
	if pool == nil {
		pool = bufpool.New()
	}

	reqLen := HeaderSize
	for _, cmd := range commands {
		reqLen += len(cmd) + 1
	}

	reqBuf := pool.Get(reqLen)
	*reqBuf = EncodeRequest((*reqBuf)[:0], commands...)
	_, err := rw.Write(*reqBuf)
	pool.Put(reqBuf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to write info request")
	}

	var hdr [HeaderSize]byte
	_, err = io.ReadFull(rw, hdr[:])
	if err != nil {
		return nil, errors.Wrap(err, "failed to read info response header")
	}

	version, msgType, bodyLen, _ := DecodeHeader(hdr[:])
	if version != ProtoVersion || msgType != MsgTypeInfo {
		return nil, errors.Wrapf(ErrBadHeader, "version %d, type %d", version, msgType)
	}
	if bodyLen > MaxBodySize {
		return nil, errors.Wrapf(ErrBodyTooLarge, "%d bytes", bodyLen)
	}

	body := pool.Get(int(bodyLen))
	defer pool.Put(body)

	_, err = io.ReadFull(rw, *body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read info response body")
	}

	return ParseResponse(*body), nil
}
