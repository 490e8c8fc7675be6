// Package packet implements the typed application-layer packets carried
// inside each frame body: Meta, Data, and End.
package packet

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MaxChunkIndex bounds the ASCII decimal chunk index accepted from the
// wire; chunk indices are otherwise unbounded in the ASCII framing.
const MaxChunkIndex = 1 << 24

// Encoding names the payload encoding carried in FileMetadata.Encoding.
type Encoding string

const (
	EncodingBase64 Encoding = "base64"
	EncodingBinary Encoding = "binary"
)

// FileMetadata is the JSON body of a Meta packet.
type FileMetadata struct {
	Filename       string   `json:"filename"`
	Size           int      `json:"size"`
	OriginalSize   int      `json:"original_size"`
	Compressed     bool     `json:"compressed"`
	Checksum       uint16   `json:"checksum"`
	CRC            uint16   `json:"crc"`
	Chunks         int      `json:"chunks"`
	Timestamp      int64    `json:"timestamp"`
	Encoding       Encoding `json:"encoding"`
}

// Kind discriminates the packet variant.
type Kind int

const (
	KindMeta Kind = iota
	KindData
	KindEnd
)

func (k Kind) String() string {
	switch k {
	case KindMeta:
		return "META"
	case KindData:
		return "DATA"
	case KindEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// Packet is the tagged union over the three wire variants. Exactly one of
// Metadata / (Index,Payload) / Reason is meaningful, selected by Kind.
type Packet struct {
	Kind     Kind
	Metadata FileMetadata
	Index    uint32
	Payload  []byte // encoded bytes exactly as carried on the wire
	Reason   string
}

// Meta constructs a Meta packet from file metadata.
func Meta(meta FileMetadata) Packet {
	return Packet{Kind: KindMeta, Metadata: meta}
}

// Data constructs a Data packet. payload must already be encoded per the
// active profile (base64 text or binary '0'/'1' ASCII).
func Data(index uint32, payload []byte) Packet {
	return Packet{Kind: KindData, Index: index, Payload: payload}
}

// End constructs an End packet carrying a status token.
func End(reason string) Packet {
	return Packet{Kind: KindEnd, Reason: reason}
}

// Serialize renders the packet as its ASCII body (the bytes that get
// bit-serialized and framed by package frame).
func (p Packet) Serialize() ([]byte, error) {
	switch p.Kind {
	case KindMeta:
		j, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("packet: marshal metadata: %w", err)
		}
		return append([]byte("META:"), j...), nil
	case KindData:
		if p.Index >= MaxChunkIndex {
			return nil, fmt.Errorf("packet: chunk index %d exceeds maximum %d", p.Index, MaxChunkIndex)
		}
		return []byte(fmt.Sprintf("DATA:%d:%s", p.Index, p.Payload)), nil
	case KindEnd:
		return []byte("END:" + p.Reason), nil
	default:
		return nil, fmt.Errorf("packet: unknown kind %v", p.Kind)
	}
}

// ErrParse is returned by Parse for any malformed packet body; the caller
// should drop the packet and let the synchronizer return to Hunting, never
// abort the session.
type ErrParse struct {
	Body string
	Err  error
}

func (e *ErrParse) Error() string {
	return fmt.Sprintf("packet: parse error on %q: %v", e.Body, e.Err)
}

func (e *ErrParse) Unwrap() error { return e.Err }

// Parse inverts Serialize, dispatching by the leading ASCII tag.
func Parse(body []byte) (Packet, error) {
	s := string(body)
	switch {
	case strings.HasPrefix(s, "META:"):
		var meta FileMetadata
		if err := json.Unmarshal(body[len("META:"):], &meta); err != nil {
			return Packet{}, &ErrParse{Body: s, Err: err}
		}
		return Meta(meta), nil

	case strings.HasPrefix(s, "DATA:"):
		rest := s[len("DATA:"):]
		sep := strings.IndexByte(rest, ':')
		if sep < 0 {
			return Packet{}, &ErrParse{Body: s, Err: fmt.Errorf("missing index separator")}
		}
		idx, err := strconv.ParseUint(rest[:sep], 10, 32)
		if err != nil {
			return Packet{}, &ErrParse{Body: s, Err: fmt.Errorf("bad chunk index: %w", err)}
		}
		if idx >= MaxChunkIndex {
			return Packet{}, &ErrParse{Body: s, Err: fmt.Errorf("chunk index %d exceeds maximum %d", idx, MaxChunkIndex)}
		}
		return Data(uint32(idx), []byte(rest[sep+1:])), nil

	case strings.HasPrefix(s, "END:"):
		return End(s[len("END:"):]), nil

	default:
		return Packet{}, &ErrParse{Body: s, Err: fmt.Errorf("unrecognized tag")}
	}
}
