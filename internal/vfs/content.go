package vfs

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// minConfidence is the chardet score below which the HTML prescan decides.
const minConfidence = 50

// Decode returns the payload bytes of a record.
func Decode(rec types.FileRecord) ([]byte, error) {
	if !rec.Base64Encoded {
		return []byte(rec.Data), nil
	}
	b, err := base64.StdEncoding.DecodeString(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", rec.Path, err)
	}
	return b, nil
}

// Encode builds a base64 record for binary content.
func Encode(path, mimeType string, data []byte) types.FileRecord {
	return types.FileRecord{
		Path:          path,
		Data:          base64.StdEncoding.EncodeToString(data),
		MimeType:      mimeType,
		Base64Encoded: true,
	}
}

// Text returns the content of a record as UTF-8 text.
func Text(rec types.FileRecord) (string, error) {
	if !rec.Base64Encoded {
		return rec.Data, nil
	}
	b, err := Decode(rec)
	if err != nil {
		return "", err
	}
	if utf8.Valid(b) {
		return string(b), nil
	}
	return transcode(b, rec)
}

func transcode(b []byte, rec types.FileRecord) (string, error) {
	detector := chardet.NewTextDetector()
	if rec.IsHTML() {
		detector = chardet.NewHtmlDetector()
	}

	var (
		r   io.Reader
		err error
	)
	if res, derr := detector.DetectBest(b); derr == nil && res.Confidence >= minConfidence {
		r, err = charset.NewReaderLabel(res.Charset, bytes.NewReader(b))
	}
	if r == nil || err != nil {
		r, err = charset.NewReader(bytes.NewReader(b), rec.MimeType)
		if err != nil {
			return "", fmt.Errorf("transcode %s: %w", rec.Path, err)
		}
	}

	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("transcode %s: %w", rec.Path, err)
	}
	return string(out), nil
}
