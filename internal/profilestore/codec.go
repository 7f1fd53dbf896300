package profilestore

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"voice-id/internal/embeddings"
	"voice-id/internal/faults"
	"voice-id/internal/identity"
)

// File layout:
//
//	[4B magic "VIDP"] [1B format version] [1B codec]
//	[payload: msgpack record, zstd-compressed when codec == 1]
var magic = [4]byte{'V', 'I', 'D', 'P'}

const (
	formatVersion uint8 = 1
	headerSize          = len(magic) + 2
)

// Compression selects the payload codec for newly written files. Readers
// accept every codec regardless of this setting.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
)

// ParseCompression maps a config value to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown profile compression %q (valid: none, zstd)", s)
	}
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// record is the msgpack payload of one profile file.
type record struct {
	FormatVersion uint8             `msgpack:"format_version"`
	SpeakerID     string            `msgpack:"speaker_id"`
	Embeddings    [][]float32       `msgpack:"embeddings"`
	Metadata      identity.Metadata `msgpack:"metadata"`
}

// Profile is the decoded content of one profile file.
type Profile struct {
	SpeakerID  string
	Embeddings []embeddings.Vector
	Metadata   identity.Metadata
	Path       string
}

func encodeProfile(p Profile, c Compression) ([]byte, error) {
	rec := record{
		FormatVersion: formatVersion,
		SpeakerID:     p.SpeakerID,
		Embeddings:    make([][]float32, len(p.Embeddings)),
		Metadata:      p.Metadata,
	}
	for i, v := range p.Embeddings {
		rec.Embeddings[i] = v
	}
	rec.Metadata.SampleCount = len(p.Embeddings)

	payload, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("encode profile %q: %w", p.SpeakerID, err)
	}
	switch c {
	case CompressionNone:
	case CompressionZstd:
		payload = zstdEncoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	default:
		return nil, fmt.Errorf("encode profile %q: unknown codec %d", p.SpeakerID, c)
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(payload)))
	buf.Write(magic[:])
	buf.WriteByte(formatVersion)
	buf.WriteByte(byte(c))
	buf.Write(payload)
	return buf.Bytes(), nil
}

func decodeProfile(data []byte) (Profile, error) {
	const op = "decode profile"
	if len(data) < headerSize || !bytes.Equal(data[:len(magic)], magic[:]) {
		return Profile{}, faults.Corrupt(errors.New("missing profile header"), op)
	}
	if v := data[len(magic)]; v != formatVersion {
		return Profile{}, faults.Corrupt(fmt.Errorf("unsupported format version %d", v), op)
	}
	payload := data[headerSize:]
	switch Compression(data[len(magic)+1]) {
	case CompressionNone:
	case CompressionZstd:
		var err error
		payload, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return Profile{}, faults.Corrupt(err, op)
		}
	default:
		return Profile{}, faults.Corrupt(fmt.Errorf("unknown codec %d", data[len(magic)+1]), op)
	}

	var rec record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return Profile{}, faults.Corrupt(err, op)
	}
	if rec.SpeakerID == "" {
		return Profile{}, faults.Corrupt(errors.New("speaker_id missing"), op)
	}
	if rec.Metadata.SampleCount != len(rec.Embeddings) {
		return Profile{}, faults.Corrupt(fmt.Errorf("sample_count %d does not match %d embeddings",
			rec.Metadata.SampleCount, len(rec.Embeddings)), op)
	}

	p := Profile{
		SpeakerID:  rec.SpeakerID,
		Embeddings: make([]embeddings.Vector, len(rec.Embeddings)),
		Metadata:   rec.Metadata,
	}
	for i, raw := range rec.Embeddings {
		v, err := embeddings.New(raw)
		if err != nil {
			return Profile{}, faults.Corrupt(fmt.Errorf("embedding %d: %w", i, err), op)
		}
		p.Embeddings[i] = v
	}
	return p, nil
}
