package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects how the vector payload of an index file is compressed.
type Codec string

const (
	// CodecNone stores raw little-endian float32 values.
	CodecNone Codec = "none"
	// CodecZstd compresses the payload with zstd.
	CodecZstd Codec = "zstd"
	// CodecLZ4 compresses the payload with the lz4 frame format.
	CodecLZ4 Codec = "lz4"
)

// ErrInvalidFormat is returned when an index file cannot be decoded.
var ErrInvalidFormat = errors.New("invalid index file")

var magic = [4]byte{'S', 'H', 'I', 'X'}

const formatVersion = 1

var codecIDs = map[Codec]byte{CodecNone: 0, CodecZstd: 1, CodecLZ4: 2}

// ParseCodec maps a configuration value to a Codec. Empty means CodecNone.
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case "", CodecNone:
		return CodecNone, nil
	case CodecZstd, CodecLZ4:
		return Codec(s), nil
	default:
		return "", fmt.Errorf("unknown index codec: %s (supported: none, zstd, lz4)", s)
	}
}

// Encode writes vectors to w. Format: magic (4), version (1), codec (1), reserved (2),
// then the possibly compressed payload: dimension (4), count (4), count*dimension float32.
// All integers and floats are little-endian.
func Encode(w io.Writer, dimensions int, vectors [][]float32, codec Codec) error {
	id, ok := codecIDs[codec]
	if !ok {
		return fmt.Errorf("unknown index codec: %s", codec)
	}
	header := []byte{magic[0], magic[1], magic[2], magic[3], formatVersion, id, 0, 0}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	switch codec {
	case CodecZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		if err := writePayload(enc, dimensions, vectors); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	case CodecLZ4:
		zw := lz4.NewWriter(w)
		if err := writePayload(zw, dimensions, vectors); err != nil {
			_ = zw.Close()
			return err
		}
		return zw.Close()
	default:
		bw := bufio.NewWriter(w)
		if err := writePayload(bw, dimensions, vectors); err != nil {
			return err
		}
		return bw.Flush()
	}
}

func writePayload(w io.Writer, dimensions int, vectors [][]float32) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(vectors))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, v := range vectors {
		if len(v) != dimensions {
			return &DimensionMismatchError{Expected: dimensions, Actual: len(v)}
		}
		if _, err := w.Write(EncodeFloat32s(v)); err != nil {
			return fmt.Errorf("write vector %d: %w", i, err)
		}
	}
	return nil
}

// Decode reads an index file written by Encode and returns the dimension and vectors.
func Decode(r io.Reader) (int, [][]float32, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("%w: read header: %v", ErrInvalidFormat, err)
	}
	if [4]byte(header[:4]) != magic {
		return 0, nil, fmt.Errorf("%w: bad magic", ErrInvalidFormat)
	}
	if header[4] != formatVersion {
		return 0, nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, header[4])
	}
	var payload io.Reader
	switch header[5] {
	case codecIDs[CodecNone]:
		payload = bufio.NewReader(r)
	case codecIDs[CodecZstd]:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: zstd: %v", ErrInvalidFormat, err)
		}
		defer dec.Close()
		payload = dec
	case codecIDs[CodecLZ4]:
		payload = lz4.NewReader(r)
	default:
		return 0, nil, fmt.Errorf("%w: unknown codec id %d", ErrInvalidFormat, header[5])
	}
	var dim, n uint32
	if err := binary.Read(payload, binary.LittleEndian, &dim); err != nil {
		return 0, nil, fmt.Errorf("%w: read dimensions: %v", ErrInvalidFormat, err)
	}
	if err := binary.Read(payload, binary.LittleEndian, &n); err != nil {
		return 0, nil, fmt.Errorf("%w: read count: %v", ErrInvalidFormat, err)
	}
	if dim == 0 {
		return 0, nil, fmt.Errorf("%w: zero dimension", ErrInvalidFormat)
	}
	vectors := make([][]float32, 0, min(int(n), 1<<16))
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(payload, buf); err != nil {
			return 0, nil, fmt.Errorf("%w: read vector %d: %v", ErrInvalidFormat, i, err)
		}
		vectors = append(vectors, decodeFloat32s(buf))
	}
	return int(dim), vectors, nil
}

// EncodeFloat32s returns the little-endian encoding of s, as stored in BLOB columns.
func EncodeFloat32s(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func decodeFloat32s(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// DecodeFloat32s decodes a little-endian float32 BLOB written by EncodeFloat32s.
func DecodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: blob length %d is not a multiple of 4", ErrInvalidFormat, len(b))
	}
	return decodeFloat32s(b), nil
}
