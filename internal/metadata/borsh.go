package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// errShort is returned when a field runs past the end of the buffer.
var errShort = errors.New("unexpected end of data")

// reader is a bounds-checked little-endian Borsh cursor.
type reader struct {
	data []byte // data is the full account buffer
	off  int    // off is the next unread byte
}

// need fails unless n more bytes are available.
func (r *reader) need(n int) error {
	if n < 0 || len(r.data)-r.off < n {
		return fmt.Errorf("%w at offset %d (need %d, have %d)", errShort, r.off, n, len(r.data)-r.off)
	}

	return nil
}

func (r *reader) done() bool {
	return r.off >= len(r.data)
}

func (r *reader) skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}

	r.off += n

	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}

	v := r.data[r.off]
	r.off++

	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}

	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2

	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}

	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4

	return v, nil
}

func (r *reader) pubkey() (solana.PublicKey, error) {
	if err := r.need(32); err != nil {
		return solana.PublicKey{}, err
	}

	var pk solana.PublicKey
	copy(pk[:], r.data[r.off:r.off+32])
	r.off += 32

	return pk, nil
}

// bytes reads a u32 length prefix followed by that many bytes.
// The returned slice aliases the buffer.
func (r *reader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}

	if uint64(n) > uint64(len(r.data)-r.off) {
		return nil, fmt.Errorf("%w: length %d exceeds remaining %d", errShort, n, len(r.data)-r.off)
	}

	v := r.data[r.off : r.off+int(n)]
	r.off += int(n)

	return v, nil
}

// option reads a Borsh Option tag.
func (r *reader) option() (bool, error) {
	tag, err := r.u8()
	if err != nil {
		return false, err
	}

	switch tag {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid option tag %d", tag)
	}
}

func (r *reader) optionU8() (*uint8, error) {
	some, err := r.option()
	if err != nil || !some {
		return nil, err
	}

	v, err := r.u8()
	if err != nil {
		return nil, err
	}

	return &v, nil
}
