package transport

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// gzipBytes compresses src, using klauspost/compress's drop-in gzip writer
// (already an indirect teacher dependency) rather than stdlib compress/gzip.
func gzipBytes(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// gunzipBytes decompresses src.
func gunzipBytes(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
