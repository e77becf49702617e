// Package compress frames binary payloads (cube files, model checkpoints)
// with a magic, a compression tag and the uncompressed size.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression algorithm of a framed payload. The values
// are part of the file format.
type Tag uint8

const (
	None Tag = 0
	LZ4  Tag = 1
	Zstd Tag = 2
)

func (t Tag) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd", "":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

const (
	version   = 1
	headerLen = 4 + 1 + 1 + 8
)

var (
	ErrBadMagic       = errors.New("compress: bad magic")
	errIncompressible = errors.New("compress: incompressible")
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Frame compresses data with tag and prefixes the header. Incompressible
// data is stored with None so readers never pay for a useless decode.
func Frame(magic [4]byte, data []byte, tag Tag) ([]byte, error) {
	body, used, err := compress(data, tag)
	if err != nil {
		return nil, err
	}
	out := make([]byte, headerLen, headerLen+len(body))
	copy(out, magic[:])
	out[4] = version
	out[5] = byte(used)
	binary.LittleEndian.PutUint64(out[6:], uint64(len(data)))
	return append(out, body...), nil
}

// Unframe checks the header and returns the decompressed payload.
func Unframe(magic [4]byte, b []byte) ([]byte, Tag, error) {
	if len(b) < headerLen || string(b[:4]) != string(magic[:]) {
		return nil, 0, ErrBadMagic
	}
	if b[4] != version {
		return nil, 0, fmt.Errorf("compress: unsupported frame version %d", b[4])
	}
	tag := Tag(b[5])
	size := binary.LittleEndian.Uint64(b[6:headerLen])
	if size > uint64(1)<<40 {
		return nil, 0, fmt.Errorf("compress: implausible payload size %d", size)
	}
	data, err := decompress(b[headerLen:], tag, int(size))
	if err != nil {
		return nil, 0, err
	}
	return data, tag, nil
}

func compress(data []byte, tag Tag) ([]byte, Tag, error) {
	var (
		out []byte
		err error
	)
	switch tag {
	case None:
		return data, None, nil
	case LZ4:
		out, err = compressLZ4(data)
	case Zstd:
		out, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("compress: unsupported tag %d", tag)
	}
	if errors.Is(err, errIncompressible) {
		return data, None, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out, tag, nil
}

func decompress(body []byte, tag Tag, size int) ([]byte, error) {
	switch tag {
	case None:
		if len(body) != size {
			return nil, fmt.Errorf("compress: stored size %d does not match header %d", len(body), size)
		}
		return body, nil
	case LZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return dst, nil
	case Zstd:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("compress: unsupported tag %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}
