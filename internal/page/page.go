// Package page implements the fixed-size slotted array of 32-bit
// integers described in spec §4.1. A Page never touches disk itself;
// persistence happens only through buffer pool eviction.
package page

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"

	"github.com/araiyan/lstore/internal/errs"
)

// Page holds up to capacity int32 values, written/read by slot.
type Page struct {
	capacity   int
	numRecords int
	data       []int32
}

// New returns an empty page that can hold up to capacity records.
func New(capacity int) *Page {
	return &Page{capacity: capacity, data: make([]int32, capacity)}
}

// NumRecords returns the number of slots written via Append so far.
func (p *Page) NumRecords() int { return p.numRecords }

// Capacity returns the maximum number of slots this page can hold.
func (p *Page) Capacity() int { return p.capacity }

// HasCapacity reports whether Append would succeed right now.
func (p *Page) HasCapacity() bool { return p.numRecords < p.capacity }

// Append writes value at the next free slot and returns that slot.
func (p *Page) Append(value int32) (int, error) {
	if !p.HasCapacity() {
		return 0, errors.New("page: no capacity to append")
	}
	slot := p.numRecords
	p.data[slot] = value
	p.numRecords++
	return slot, nil
}

// WriteAt overwrites the value at an existing slot. Slots beyond the
// current write frontier but within capacity are allowed, matching
// base-record writes which target a slot implied by the RID rather
// than the append cursor.
func (p *Page) WriteAt(slot int, value int32) error {
	if slot < 0 || slot >= p.capacity {
		return errors.Errorf("page: slot %d out of range [0,%d)", slot, p.capacity)
	}
	p.data[slot] = value
	if slot >= p.numRecords {
		p.numRecords = slot + 1
	}
	return nil
}

// Read returns the value stored at slot.
func (p *Page) Read(slot int) (int32, error) {
	if slot < 0 || slot >= p.capacity {
		return 0, errors.Errorf("page: slot %d out of range [0,%d)", slot, p.capacity)
	}
	return p.data[slot], nil
}

// envelope is the on-disk form: {num_records, checksum, base64(zlib(raw))}.
type envelope struct {
	NumRecords int    `json:"num_records"`
	Checksum   uint64 `json:"checksum"`
	Data       string `json:"data"`
}

// Serialize renders the page as {num_records, base64(zlib(raw_bytes))}
// per spec §4.1, with a stamped xxhash checksum of the raw bytes so a
// truncated or bit-flipped file surfaces as Corruption on load rather
// than as silently wrong data.
func (p *Page) Serialize() ([]byte, error) {
	raw := make([]byte, p.capacity*4)
	for i, v := range p.data {
		binary.LittleEndian.PutUint32(raw[i*4:], uint32(v))
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, errors.Wrap(err, "page: compressing raw bytes")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "page: flushing zlib writer")
	}

	env := envelope{
		NumRecords: p.numRecords,
		Checksum:   xxhash.Checksum64(raw),
		Data:       base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
	return marshalEnvelope(env)
}

// Deserialize loads a page from its on-disk envelope, rejecting
// payloads whose checksum does not match the decompressed bytes.
func Deserialize(capacity int, blob []byte) (*Page, error) {
	env, err := unmarshalEnvelope(blob)
	if err != nil {
		return nil, errors.Wrap(err, "page: decoding envelope")
	}

	compressed, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, errors.Wrap(errs.ErrCorruption, "page: invalid base64: "+err.Error())
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrap(errs.ErrCorruption, "page: invalid zlib stream: "+err.Error())
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(errs.ErrCorruption, "page: truncated zlib stream: "+err.Error())
	}

	if xxhash.Checksum64(raw) != env.Checksum {
		return nil, errors.Wrap(errs.ErrCorruption, "page: checksum mismatch")
	}

	if len(raw) != capacity*4 {
		return nil, errors.Wrap(errs.ErrCorruption, "page: unexpected payload length")
	}

	p := New(capacity)
	p.numRecords = env.NumRecords
	for i := 0; i < capacity; i++ {
		p.data[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return p, nil
}

func marshalEnvelope(env envelope) ([]byte, error) {
	return json.Marshal(env)
}

func unmarshalEnvelope(blob []byte) (envelope, error) {
	var env envelope
	err := json.Unmarshal(blob, &env)
	return env, err
}
