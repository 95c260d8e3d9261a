package rewrite

import (
	"encoding/base64"

	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/GriffinCanCode/vsite/internal/vfs"
	"github.com/gabriel-vasile/mimetype"
)

// DataURI encodes a record as a data: URI. SVG is re-encoded from its text
// with an explicit UTF-8 charset; other records reuse their base64 payload.
func DataURI(rec types.FileRecord) (string, error) {
	if rec.IsSVG() {
		text, err := vfs.Text(rec)
		if err != nil {
			return "", err
		}
		return "data:image/svg+xml;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(text)), nil
	}

	mime := rec.MimeType
	if mime == "" {
		data, err := vfs.Decode(rec)
		if err != nil {
			return "", err
		}
		mime = mimetype.Detect(data).String()
	}

	if rec.Base64Encoded {
		return "data:" + mime + ";base64," + rec.Data, nil
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString([]byte(rec.Data)), nil
}
