// Package pumlenc implements the text encoding PlantUML servers accept in their
// URLs: raw DEFLATE compressed UTF-8 written with PlantUML's own base64 alphabet,
// or the uncompressed ~h hex form.
package pumlenc

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"oss.terrastruct.com/util-go/xdefer"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

const (
	deflatePrefix = "~1"
	hexPrefix     = "~h"
)

var b64 = base64.NewEncoding(alphabet).WithPadding(base64.NoPadding)

var ErrInvalidUTF8 = errors.New("diagram source is not valid UTF-8")

// Encode compresses a PlantUML diagram source and encodes it for use as the last
// path segment of a server URL.
func Encode(src string) (_ string, err error) {
	defer xdefer.Errorf(&err, "failed to encode plantuml source")

	if err := validUTF8(src); err != nil {
		return "", err
	}

	b := &bytes.Buffer{}
	zw, err := flate.NewWriter(b, flate.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(zw, strings.NewReader(src)); err != nil {
		return "", err
	}
	// Close ends the stream with an empty final stored block, so payloads run a few
	// characters longer than the ones PlantUML emits. Servers decode both.
	if err := zw.Close(); err != nil {
		return "", err
	}

	// PlantUML always emits whole 4 character groups, zero filling the last one.
	compressed := b.Bytes()
	if rem := len(compressed) % 3; rem != 0 {
		compressed = append(compressed, make([]byte, 3-rem)...)
	}
	return b64.EncodeToString(compressed), nil
}

// EncodeHex encodes src in PlantUML's uncompressed hex form.
func EncodeHex(src string) (_ string, err error) {
	defer xdefer.Errorf(&err, "failed to hex encode plantuml source")

	if err := validUTF8(src); err != nil {
		return "", err
	}
	return hexPrefix + hex.EncodeToString([]byte(src)), nil
}

// Decode reverses Encode and EncodeHex.
func Decode(encoded string) (_ string, err error) {
	defer xdefer.Errorf(&err, "failed to decode plantuml payload")

	if strings.HasPrefix(encoded, hexPrefix) {
		b, err := hex.DecodeString(strings.TrimPrefix(encoded, hexPrefix))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	encoded = strings.TrimPrefix(encoded, deflatePrefix)

	compressed, err := b64.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	// Trailing fill bytes after the final deflate block are never read.
	zr := flate.NewReader(bytes.NewReader(compressed))
	var b bytes.Buffer
	if _, err := io.Copy(&b, zr); err != nil {
		return "", err
	}
	if err := zr.Close(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func validUTF8(src string) error {
	for i := 0; i < len(src); {
		r, size := utf8.DecodeRuneInString(src[i:])
		if r == utf8.RuneError && size == 1 {
			return fmt.Errorf("%w: invalid byte 0x%02x at offset %d", ErrInvalidUTF8, src[i], i)
		}
		i += size
	}
	return nil
}
