package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Transcripts compress extremely well (repetitive compiler output), so the
// durable copy is stored as one zstd blob instead of row-per-line.

// zstdEncoder and zstdDecoder are reused across calls to avoid repeated
// initialization overhead. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("ledger: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("ledger: zstd decoder initialization failed: " + err.Error())
	}
}

func encodeTranscript(lines []Line) ([]byte, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

func decodeTranscript(blob []byte) ([]Line, error) {
	raw, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	var lines []Line
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}
	return lines, nil
}
