package storage

import (
	"bytes"
	"errors"

	"github.com/klauspost/compress/zstd"
)

// zstd frame magic, little endian 0xFD2FB528.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	// ErrNotPacked is returned by Unpack for data without a zstd frame header.
	ErrNotPacked = errors.New("payload is not zstd compressed")
	// ErrTooLarge is returned by Unpack when the output would exceed the
	// Unpacker limit.
	ErrTooLarge = errors.New("unpacked payload exceeds size limit")
)

// Packer compresses upload payloads.
type Packer struct {
	encoder *zstd.Encoder
}

func NewPacker() (*Packer, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, err
	}
	return &Packer{encoder: enc}, nil
}

// Pack returns raw as a single zstd frame.
func (p *Packer) Pack(raw []byte) []byte {
	return p.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

// Unpacker decompresses payloads produced by Packer.
type Unpacker struct {
	decoder *zstd.Decoder
}

// NewUnpacker returns an Unpacker that refuses to produce more than
// maxBytes of output.
func NewUnpacker(maxBytes uint64) (*Unpacker, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBytes))
	if err != nil {
		return nil, err
	}
	return &Unpacker{decoder: dec}, nil
}

// Unpack decompresses data.
func (u *Unpacker) Unpack(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return nil, ErrNotPacked
	}
	out, err := u.decoder.DecodeAll(data, nil)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
		return nil, ErrTooLarge
	}
	return out, err
}
