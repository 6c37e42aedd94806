package pumlenc_test

import (
	"errors"
	"strings"
	"testing"

	"oss.terrastruct.com/diff"
	"oss.terrastruct.com/util-go/assert"

	"oss.terrastruct.com/pumlmd/pumlenc"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tca := []struct {
		name string
		src  string
	}{
		{
			name: "sequence",
			src: `@startuml
Bob -> Alice : hello
Alice --> Bob : I just forgot my whole philosophy of life!!!
@enduml`,
		},
		{
			name: "short",
			src:  `A->B`,
		},
		{
			name: "empty",
			src:  ``,
		},
		{
			name: "unicode",
			src:  "Élodie -> 山田 : こんにちは 👋",
		},
	}

	for _, tc := range tca {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			encoded, err := pumlenc.Encode(tc.src)
			assert.Success(t, err)

			decoded, err := pumlenc.Decode(encoded)
			assert.Success(t, err)
			diff.AssertStringEq(t, tc.src, decoded)

			hexed, err := pumlenc.EncodeHex(tc.src)
			assert.Success(t, err)
			decoded, err = pumlenc.Decode(hexed)
			assert.Success(t, err)
			diff.AssertStringEq(t, tc.src, decoded)
		})
	}
}

func TestEncodeAlphabet(t *testing.T) {
	t.Parallel()

	for _, src := range []string{"", "A", "A->B", "Bob -> Alice : hello", strings.Repeat("x -> y\n", 100)} {
		encoded, err := pumlenc.Encode(src)
		assert.Success(t, err)

		if len(encoded)%4 != 0 {
			t.Fatalf("expected whole 4 character groups for %q, got %d characters", src, len(encoded))
		}
		for _, r := range encoded {
			ok := ('0' <= r && r <= '9') || ('A' <= r && r <= 'Z') || ('a' <= r && r <= 'z') || r == '-' || r == '_'
			if !ok {
				t.Fatalf("unexpected character %q in %q", r, encoded)
			}
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()

	const src = "Bob -> Alice : hello"
	first, err := pumlenc.Encode(src)
	assert.Success(t, err)
	for i := 0; i < 10; i++ {
		again, err := pumlenc.Encode(src)
		assert.Success(t, err)
		assert.String(t, first, again)
	}
}

func TestEncodeGolden(t *testing.T) {
	t.Parallel()

	encoded, err := pumlenc.Encode("Bob -> Alice : hello")
	assert.Success(t, err)
	assert.String(t, "SifFKj2rKt3CoKnELR1Io4ZDoSa71000__y0", encoded)
}

// Payloads produced by PlantUML itself end on a final compressed block.
func TestDecodePlantUMLPayload(t *testing.T) {
	t.Parallel()

	decoded, err := pumlenc.Decode("SyfFKj2rKt3CoKnELR1Io4ZDoSa70000")
	assert.Success(t, err)
	assert.String(t, "Bob -> Alice : hello", decoded)
}

func TestEncodeHex(t *testing.T) {
	t.Parallel()

	encoded, err := pumlenc.EncodeHex("A->B")
	assert.Success(t, err)
	assert.String(t, "~h412d3e42", encoded)
}

func TestDecodeDeflatePrefix(t *testing.T) {
	t.Parallel()

	encoded, err := pumlenc.Encode("A->B")
	assert.Success(t, err)

	decoded, err := pumlenc.Decode("~1" + encoded)
	assert.Success(t, err)
	assert.String(t, "A->B", decoded)
}

func TestEncodeInvalidUTF8(t *testing.T) {
	t.Parallel()

	_, err := pumlenc.Encode("A->\xffB")
	if !errors.Is(err, pumlenc.ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
	if !strings.Contains(err.Error(), "offset 3") {
		t.Fatalf("expected the offending offset in %q", err)
	}

	_, err = pumlenc.EncodeHex("\xc3")
	if !errors.Is(err, pumlenc.ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{"!!!!", "~hzz", "0000"} {
		_, err := pumlenc.Decode(payload)
		if err == nil {
			t.Fatalf("expected %q to fail decoding", payload)
		}
	}
}

func TestParseEncoding(t *testing.T) {
	t.Parallel()

	e, err := pumlenc.ParseEncoding("")
	assert.Success(t, err)
	assert.Equal(t, pumlenc.EncodingDeflate, e)

	e, err = pumlenc.ParseEncoding("HEX")
	assert.Success(t, err)
	assert.Equal(t, pumlenc.EncodingHex, e)

	_, err = pumlenc.ParseEncoding("base32")
	assert.ErrorString(t, err, `unknown encoding "base32": expected "deflate" or "hex"`)

	encoded, err := pumlenc.EncodingHex.Encode("A->B")
	assert.Success(t, err)
	assert.String(t, "~h412d3e42", encoded)
}
