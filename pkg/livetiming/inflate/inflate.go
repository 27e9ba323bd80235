// Package inflate decodes the compressed payloads of ".z" live timing topics.
// Those are base64 encoded raw deflate streams (no zlib header) of json data.
package inflate

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/mpapenbr/livetiming-gateway-go/log"
)

const compressedSuffix = ".z"

// IsCompressedTopic reports whether payloads of topic are expected to be compressed
func IsCompressedTopic(topic string) bool {
	return strings.HasSuffix(topic, compressedSuffix)
}

// Decode decodes base64, inflates and unmarshals the result as json.
func Decode(s string) (any, error) {
	raw, err := DecodeBytes(s)
	if err != nil {
		return nil, err
	}
	var ret any
	if err := json.Unmarshal(raw, &ret); err != nil {
		return nil, fmt.Errorf("inflated data is no json: %w", err)
	}
	return ret, nil
}

// DecodeBytes decodes base64 and inflates without interpreting the content
func DecodeBytes(s string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	return raw, nil
}

// DecodeOrRaw returns the decoded value of s. Some ".z" topics carry plain
// json now and then, so on failure s is returned unchanged.
func DecodeOrRaw(s string, l *log.Logger) any {
	v, err := Decode(s)
	if err != nil {
		if l == nil {
			l = log.Default()
		}
		l.Debug("payload not compressed, using raw value",
			log.Int("len", len(s)), log.ErrorField(err))
		return s
	}
	return v
}

// Encode is the inverse of DecodeBytes.
func Encode(data []byte) (string, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
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
