package dlcstate

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// maxVarBytes bounds any single length-prefixed field.
const maxVarBytes = 1 << 22

// maxListLen bounds any element count.
const maxListLen = 1 << 16

// ErrTrailingBytes is returned when a record has data after its last field.
var ErrTrailingBytes = errors.New("trailing bytes after record")

// Writes to a bytes.Buffer cannot fail, so the helpers below drop errors.

func putVarInt(b *bytes.Buffer, v uint64) { _ = wire.WriteVarInt(b, 0, v) }

func putVarBytes(b *bytes.Buffer, p []byte) { _ = wire.WriteVarBytes(b, 0, p) }

func putString(b *bytes.Buffer, s string) { _ = wire.WriteVarString(b, 0, s) }

func putBool(b *bytes.Buffer, v bool) {
	if v {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}
}

func putU16(b *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func putU32(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func putU64(b *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.Write(tmp[:])
}

func putOutPoint(b *bytes.Buffer, op wire.OutPoint) {
	b.Write(op.Hash[:])
	putU32(b, op.Index)
}

// putTx writes a presence flag followed by the witness serialization.
func putTx(b *bytes.Buffer, tx *wire.MsgTx) {
	if tx == nil {
		putBool(b, false)
		return
	}
	putBool(b, true)
	_ = tx.Serialize(b)
}

func putByteList(b *bytes.Buffer, l [][]byte) {
	putVarInt(b, uint64(len(l)))
	for _, p := range l {
		putVarBytes(b, p)
	}
}

func putStringList(b *bytes.Buffer, l []string) {
	putVarInt(b, uint64(len(l)))
	for _, s := range l {
		putString(b, s)
	}
}

// reader decodes the primitives above. The first error sticks and every
// later read becomes a no-op, so decoders check r.err once at the end.
type reader struct {
	r   *bytes.Reader
	err error
}

func newReader(p []byte) *reader { return &reader{r: bytes.NewReader(p)} }

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) fixed(dst []byte) {
	if r.err != nil {
		return
	}
	if _, err := io.ReadFull(r.r, dst); err != nil {
		r.fail(err)
	}
}

func (r *reader) u8() byte {
	var tmp [1]byte
	r.fixed(tmp[:])
	return tmp[0]
}

func (r *reader) boolean() bool {
	switch v := r.u8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(fmt.Errorf("invalid bool byte %x", v))
		return false
	}
}

func (r *reader) u16() uint16 {
	var tmp [2]byte
	r.fixed(tmp[:])
	return binary.BigEndian.Uint16(tmp[:])
}

func (r *reader) u32() uint32 {
	var tmp [4]byte
	r.fixed(tmp[:])
	return binary.BigEndian.Uint32(tmp[:])
}

func (r *reader) u64() uint64 {
	var tmp [8]byte
	r.fixed(tmp[:])
	return binary.BigEndian.Uint64(tmp[:])
}

func (r *reader) varInt() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := wire.ReadVarInt(r.r, 0)
	r.fail(err)
	return v
}

// count reads an element count and rejects anything implausible before
// the caller allocates for it.
func (r *reader) count() int {
	n := r.varInt()
	if n > maxListLen {
		r.fail(fmt.Errorf("list length %d too large", n))
		return 0
	}
	return int(n)
}

// varBytes returns nil for an empty field.
func (r *reader) varBytes() []byte {
	n := r.varInt()
	if r.err != nil || n == 0 {
		return nil
	}
	if n > maxVarBytes || n > uint64(r.r.Len()) {
		r.fail(fmt.Errorf("field length %d exceeds remaining data", n))
		return nil
	}
	p := make([]byte, n)
	r.fixed(p)
	return p
}

func (r *reader) str() string { return string(r.varBytes()) }

func (r *reader) hash() chainhash.Hash {
	var h chainhash.Hash
	r.fixed(h[:])
	return h
}

func (r *reader) outPoint() wire.OutPoint {
	h := r.hash()
	return wire.OutPoint{Hash: h, Index: r.u32()}
}

func (r *reader) tx() *wire.MsgTx {
	if !r.boolean() || r.err != nil {
		return nil
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(r.r); err != nil {
		r.fail(err)
		return nil
	}
	return tx
}

func (r *reader) byteList() [][]byte {
	n := r.count()
	if n == 0 {
		return nil
	}
	l := make([][]byte, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		l = append(l, r.varBytes())
	}
	return l
}

func (r *reader) stringList() []string {
	n := r.count()
	if n == 0 {
		return nil
	}
	l := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		l = append(l, r.str())
	}
	return l
}

// done reports the sticky error, or ErrTrailingBytes if input remains.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.r.Len() != 0 {
		return ErrTrailingBytes
	}
	return nil
}

// SerializeWitness encodes a witness stack the way psbt stores a final
// script witness: a count followed by length-prefixed items.
func SerializeWitness(w wire.TxWitness) []byte {
	var b bytes.Buffer
	putByteList(&b, w)
	return b.Bytes()
}

// ParseWitness reverses SerializeWitness.
func ParseWitness(p []byte) (wire.TxWitness, error) {
	r := newReader(p)
	l := r.byteList()
	if err := r.done(); err != nil {
		return nil, err
	}
	return wire.TxWitness(l), nil
}
