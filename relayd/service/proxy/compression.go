package proxy

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

const (
	encodingGzip    = "gzip"
	encodingDeflate = "deflate"
)

// NormalizeEncoding normalizes a Content-Encoding header value.
// Returns the canonical encoding and whether it is a single supported
// encoding. Comma-separated stacks return ("", false) since a partial
// decode would corrupt the payload.
func NormalizeEncoding(encoding string) (string, bool) {
	encoding = strings.TrimSpace(strings.ToLower(encoding))
	if strings.Contains(encoding, ",") {
		return "", false
	}

	switch encoding {
	case encodingGzip, "x-gzip":
		return encodingGzip, true
	case encodingDeflate:
		return encodingDeflate, true
	default:
		return encoding, false
	}
}

// Decompress decodes data according to Content-Encoding.
// Returns (decoded data, wasCompressed). A nil result with
// wasCompressed=true means decoding failed. Unknown encodings return the
// original data with wasCompressed=false.
func Decompress(data []byte, encoding string) ([]byte, bool) {
	normalized, supported := NormalizeEncoding(encoding)
	if !supported {
		return data, false
	}

	switch normalized {
	case encodingGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, true
		}
		defer func() { _ = gr.Close() }()
		decoded, err := io.ReadAll(gr)
		if err != nil {
			return nil, true
		}
		return decoded, true
	case encodingDeflate:
		// Raw DEFLATE first, then zlib-wrapped (both appear in the wild).
		fr := flate.NewReader(bytes.NewReader(data))
		if decoded, err := io.ReadAll(fr); err == nil {
			_ = fr.Close()
			return decoded, true
		}
		_ = fr.Close()
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, true
		}
		defer func() { _ = zr.Close() }()
		decoded, err := io.ReadAll(zr)
		if err != nil {
			return nil, true
		}
		return decoded, true
	}
	return data, false
}
