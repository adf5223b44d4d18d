package netgroup

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds a single encoded frame.
const MaxFrameSize = 1 << 30

type frameKind uint64

const (
	kindHello frameKind = iota + 1
	kindWelcome
	kindBarrier
	kindSumFloat64s
	kindSumUint32s
	kindAll
	kindMinLoc
	kindBroadcastFloat64s
	kindBroadcastUint32s
	kindScatter
	kindGather
	kindTransfer
)

func (k frameKind) String() string {
	switch k {
	case kindHello:
		return "hello"
	case kindWelcome:
		return "welcome"
	case kindBarrier:
		return "barrier"
	case kindSumFloat64s, kindSumUint32s:
		return "sum"
	case kindAll:
		return "all"
	case kindMinLoc:
		return "minloc"
	case kindBroadcastFloat64s, kindBroadcastUint32s:
		return "broadcast"
	case kindScatter:
		return "scatter"
	case kindGather:
		return "gather"
	case kindTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("kind(%d)", uint64(k))
	}
}

// Field numbers of the frame message.
const (
	fieldKind     protowire.Number = 1
	fieldSeq      protowire.Number = 2
	fieldRank     protowire.Number = 3
	fieldSize     protowire.Number = 4
	fieldSession  protowire.Number = 5
	fieldEncoding protowire.Number = 6
	fieldChecksum protowire.Number = 7
	fieldPayload  protowire.Number = 8
)

const (
	encodingRaw  = 0
	encodingZstd = 1
)

// frame is one protocol message. payload always holds the uncompressed bytes.
type frame struct {
	kind    frameKind
	seq     uint64
	rank    int
	size    int
	session string
	payload []byte
}

// codec turns frames into bytes and back. It is safe for concurrent use.
type codec struct {
	enc       *zstd.Encoder
	dec       *zstd.Decoder
	threshold int
}

// newCodec compresses payloads of at least threshold bytes. A threshold of
// zero or less disables compression.
func newCodec(threshold int) (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &codec{enc: enc, dec: dec, threshold: threshold}, nil
}

func (c *codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

func (c *codec) marshal(f *frame) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.kind))
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, f.seq)
	b = protowire.AppendTag(b, fieldRank, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.rank))
	if f.size > 0 {
		b = protowire.AppendTag(b, fieldSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.size))
	}
	if f.session != "" {
		b = protowire.AppendTag(b, fieldSession, protowire.BytesType)
		b = protowire.AppendString(b, f.session)
	}
	if len(f.payload) == 0 {
		return b
	}

	body, encoding := f.payload, uint64(encodingRaw)
	if c.threshold > 0 && len(f.payload) >= c.threshold {
		body, encoding = c.enc.EncodeAll(f.payload, nil), encodingZstd
	}
	b = protowire.AppendTag(b, fieldEncoding, protowire.VarintType)
	b = protowire.AppendVarint(b, encoding)
	b = protowire.AppendTag(b, fieldChecksum, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, xxhash.Sum64(f.payload))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	return b
}

func (c *codec) unmarshal(b []byte) (*frame, error) {
	f := &frame{}
	var (
		encoding    uint64
		checksum    uint64
		hasChecksum bool
		body        []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && num != fieldChecksum:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrProtocol, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldKind:
				f.kind = frameKind(v)
			case fieldSeq:
				f.seq = v
			case fieldRank:
				f.rank = int(v)
			case fieldSize:
				f.size = int(v)
			case fieldEncoding:
				encoding = v
			}
		case num == fieldChecksum && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrProtocol, protowire.ParseError(n))
			}
			b = b[n:]
			checksum, hasChecksum = v, true
		case typ == protowire.BytesType && (num == fieldSession || num == fieldPayload):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrProtocol, protowire.ParseError(n))
			}
			b = b[n:]
			if num == fieldSession {
				f.session = string(v)
			} else {
				body = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrProtocol, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if body == nil {
		return f, nil
	}
	switch encoding {
	case encodingRaw:
		f.payload = body
	case encodingZstd:
		payload, err := c.dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		f.payload = payload
	default:
		return nil, fmt.Errorf("%w: unknown payload encoding %d", ErrProtocol, encoding)
	}
	if !hasChecksum || xxhash.Sum64(f.payload) != checksum {
		return nil, ErrChecksumMismatch
	}
	return f, nil
}

// writeFrame writes b with a 4-byte big-endian length prefix.
func writeFrame(w io.Writer, b []byte) error {
	if len(b) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(b))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readFrame reads one length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func appendFloat64s(b []byte, vs []float64) []byte {
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	}
	return b
}

func decodeFloat64s(b []byte, dst []float64) error {
	if len(b) != 8*len(dst) {
		return fmt.Errorf("%w: %d bytes for %d float64 values", ErrProtocol, len(b), len(dst))
	}
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return nil
}

func appendUint32s(b []byte, vs []uint32) []byte {
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

func decodeUint32s(b []byte, dst []uint32) error {
	if len(b) != 4*len(dst) {
		return fmt.Errorf("%w: %d bytes for %d uint32 values", ErrProtocol, len(b), len(dst))
	}
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return nil
}

func appendUint16s(b []byte, vs []uint16) []byte {
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return b
}

func decodeUint16s(b []byte, dst []uint16) error {
	if len(b) != 2*len(dst) {
		return fmt.Errorf("%w: %d bytes for %d uint16 values", ErrProtocol, len(b), len(dst))
	}
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return nil
}
