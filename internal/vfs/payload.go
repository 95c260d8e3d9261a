package vfs

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the stream format of an encoded payload.
type Compression string

const (
	CompressionZlib Compression = "zlib"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

var (
	ErrNoPayload      = errors.New("no payload found in document")
	ErrUnknownFormat  = errors.New("unknown payload compression")
	errEmptyStartPath = errors.New("payload has no current_path")
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// blobPattern finds the long base64 string literal a bundled document assigns
// to a window property inside an inline script.
var blobPattern = regexp.MustCompile(`(?s)<script[^>]*>.*?window.*?"([A-Za-z0-9/+]{128,}={0,2})".*?</script>`)

// DecodePayload parses a base64, compressed JSON payload.
func DecodePayload(blob string) (*types.Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(blob), ""))
	if err != nil {
		return nil, fmt.Errorf("payload base64: %w", err)
	}

	rc, err := decompressor(raw)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("payload decompress: %w", err)
	}

	var p types.Payload
	if err := sonic.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("payload json: %w", err)
	}
	if p.CurrentPath == "" {
		return nil, errEmptyStartPath
	}
	if p.FileTree == nil {
		p.FileTree = types.FileTree{}
	}
	if p.Utils == nil {
		p.Utils = types.Utils{}
	}
	return &p, nil
}

// EncodePayload produces a payload blob in the bundle format.
func EncodePayload(p *types.Payload, c Compression) (string, error) {
	data, err := sonic.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("payload json: %w", err)
	}

	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case CompressionZlib, "":
		w, err = zlib.NewWriterLevel(&buf, zlib.BestCompression)
	case CompressionGzip:
		w, err = gzip.NewWriterLevel(&buf, gzip.BestCompression)
	case CompressionZstd:
		w, err = zstd.NewWriter(&buf)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, c)
	}
	if err != nil {
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// PayloadFromDocument extracts and decodes the payload embedded in a bundled
// HTML document. A document that is itself a bare blob is accepted too.
func PayloadFromDocument(doc string) (*types.Payload, error) {
	if m := blobPattern.FindStringSubmatch(doc); m != nil {
		return DecodePayload(m[1])
	}
	trimmed := strings.TrimSpace(doc)
	if trimmed != "" && !strings.Contains(trimmed, "<") {
		return DecodePayload(trimmed)
	}
	return nil, ErrNoPayload
}

func decompressor(raw []byte) (io.ReadCloser, error) {
	switch {
	case bytes.HasPrefix(raw, zstdMagic):
		d, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("payload zstd: %w", err)
		}
		return d.IOReadCloser(), nil
	case bytes.HasPrefix(raw, gzipMagic):
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("payload gzip: %w", err)
		}
		return r, nil
	case len(raw) >= 2 && raw[0]&0x0f == 8 && (uint16(raw[0])<<8|uint16(raw[1]))%31 == 0:
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("payload zlib: %w", err)
		}
		return r, nil
	default:
		return nil, ErrUnknownFormat
	}
}
