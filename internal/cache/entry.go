package cache

import (
	"fmt"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Entry field slots in the FlatBuffers table.
const (
	slotURI       = 0
	slotFetchedAt = 1
	slotBody      = 2
	entryFields   = 3
)

// Entry is one cached descriptor response.
type Entry struct {
	URI       string    // URI is the fetched address
	FetchedAt time.Time // FetchedAt is when the body was fetched
	Body      []byte    // Body is the uncompressed response body
}

// Key returns the storage key of uri.
func Key(uri string) [32]byte {
	return blake3.Sum256([]byte(uri))
}

// codec encodes entries as FlatBuffers tables with a zstd-compressed body.
// It is safe for concurrent use.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}

	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}

// encode serializes e.
func (c *codec) encode(e Entry) []byte {
	compressed := c.enc.EncodeAll(e.Body, nil)

	b := flatbuffers.NewBuilder(len(compressed) + len(e.URI) + 64)

	uriOff := b.CreateString(e.URI)
	bodyOff := b.CreateByteVector(compressed)

	b.StartObject(entryFields)
	b.PrependUOffsetTSlot(slotURI, uriOff, 0)
	b.PrependInt64Slot(slotFetchedAt, e.FetchedAt.UnixNano(), 0)
	b.PrependUOffsetTSlot(slotBody, bodyOff, 0)
	b.Finish(b.EndObject())

	return b.FinishedBytes()
}

// decode parses data written by encode.
func (c *codec) decode(data []byte) (e Entry, err error) {
	if len(data) < flatbuffers.SizeUOffsetT {
		return Entry{}, fmt.Errorf("entry too short: %d bytes", len(data))
	}

	// Corrupt tables index out of range; report them as errors.
	defer func() {
		if r := recover(); r != nil {
			e, err = Entry{}, fmt.Errorf("corrupt entry: %v", r)
		}
	}()

	tab := flatbuffers.Table{Bytes: data, Pos: flatbuffers.GetUOffsetT(data)}

	if o := flatbuffers.UOffsetT(tab.Offset(vtableSlot(slotURI))); o != 0 {
		e.URI = string(tab.ByteVector(o + tab.Pos))
	}
	if o := flatbuffers.UOffsetT(tab.Offset(vtableSlot(slotFetchedAt))); o != 0 {
		e.FetchedAt = time.Unix(0, tab.GetInt64(o+tab.Pos))
	}

	o := flatbuffers.UOffsetT(tab.Offset(vtableSlot(slotBody)))
	if o == 0 {
		return Entry{}, fmt.Errorf("entry has no body")
	}

	e.Body, err = c.dec.DecodeAll(tab.ByteVector(o+tab.Pos), nil)
	if err != nil {
		return Entry{}, fmt.Errorf("decompress body:\n%w", err)
	}

	return e, nil
}

// vtableSlot returns the vtable offset of field slot.
func vtableSlot(slot int) flatbuffers.VOffsetT {
	return flatbuffers.VOffsetT(4 + 2*slot)
}
