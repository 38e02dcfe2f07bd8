package wal

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the codec applied to record bodies at rest. Records
// carry their compression as a leading tag byte, so the log can be read back
// regardless of the writer's setting.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZSTD
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZSTD:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// encodeRecord frames an encoded event body with its compression tag.
func encodeRecord(c Compression, body []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return append([]byte{byte(CompressionNone)}, body...), nil
	case CompressionZSTD:
		return zstdEncoder.EncodeAll(body, []byte{byte(CompressionZSTD)}), nil
	case CompressionLZ4:
		var buf bytes.Buffer

		buf.WriteByte(byte(CompressionLZ4))

		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}

		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}

		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
}

// decodeRecord strips the compression tag and returns the event body.
func decodeRecord(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty record")
	}

	switch Compression(data[0]) {
	case CompressionNone:
		return data[1:], nil
	case CompressionZSTD:
		return zstdDecoder.DecodeAll(data[1:], nil)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data[1:])))
	default:
		return nil, fmt.Errorf("unknown compression %d", data[0])
	}
}
