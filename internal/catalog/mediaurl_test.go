package catalog

import (
	"crypto/des"
	"encoding/base64"
	"testing"
)

// encodeMediaLocator builds the upstream obfuscated form for test fixtures:
// PKCS5 pad, DES-ECB encrypt with the public key, base64.
func encodeMediaLocator(t *testing.T, plaintext string) string {
	t.Helper()
	block, err := des.NewCipher([]byte(mediaKey))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	padding := block.BlockSize() - len(plaintext)%block.BlockSize()
	padded := []byte(plaintext)
	for i := 0; i < padding; i++ {
		padded = append(padded, byte(padding))
	}
	ciphertext := make([]byte, len(padded))
	for offset := 0; offset < len(padded); offset += block.BlockSize() {
		block.Encrypt(ciphertext[offset:offset+block.BlockSize()], padded[offset:offset+block.BlockSize()])
	}
	return base64.StdEncoding.EncodeToString(ciphertext)
}

func TestResolveMediaURLPlainLocator(t *testing.T) {
	got := ResolveMediaURL("https://cdn.example.com/track_160.mp4", "", "", "")
	if got != "https://cdn.example.com/track_160.mp4" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestResolveMediaURLPlainLocatorSkippedWhenPreview(t *testing.T) {
	encrypted := encodeMediaLocator(t, "https://cdn.example.com/track_96.mp4")
	got := ResolveMediaURL("https://preview.example.com/track_96_p.mp4", encrypted, "", "true")
	if got != "https://cdn.example.com/track_320.mp4" {
		t.Fatalf("preview locator must fall through to decode, got %q", got)
	}
}

func TestResolveMediaURLDecodesEncryptedLocator(t *testing.T) {
	encrypted := encodeMediaLocator(t, "https://cdn.example.com/abc/track_96.mp4")

	got := ResolveMediaURL("", encrypted, "", "true")
	if got != "https://cdn.example.com/abc/track_320.mp4" {
		t.Fatalf("unexpected decode: %q", got)
	}

	// Deterministic: same input, same output.
	if again := ResolveMediaURL("", encrypted, "", "true"); again != got {
		t.Fatalf("decode must be deterministic: %q vs %q", again, got)
	}
}

func TestResolveMediaURLBitrateGate(t *testing.T) {
	encrypted := encodeMediaLocator(t, "https://cdn.example.com/track_96.mp4")

	high := ResolveMediaURL("", encrypted, "", "true")
	if high != "https://cdn.example.com/track_320.mp4" {
		t.Fatalf("unexpected high-bitrate URL: %q", high)
	}
	low := ResolveMediaURL("", encrypted, "", "false")
	if low != "https://cdn.example.com/track_160.mp4" {
		t.Fatalf("expected 160kbps downgrade, got %q", low)
	}
	// Any flag other than the literal "true" downgrades.
	if odd := ResolveMediaURL("", encrypted, "", "True"); odd != low {
		t.Fatalf("non-literal flag must downgrade, got %q", odd)
	}
}

func TestResolveMediaURLPreviewFallback(t *testing.T) {
	got := ResolveMediaURL("", "not-base64!!", "https://preview.example.com/track_96_p.mp4", "")
	if got != "https://aac.example.com/track_160.mp4" {
		t.Fatalf("unexpected preview conversion: %q", got)
	}
}

func TestResolveMediaURLAllTiersFail(t *testing.T) {
	if got := ResolveMediaURL("", "", "", ""); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
	if got := ResolveMediaURL("", "%%%", "", ""); got != "" {
		t.Fatalf("expected empty result on bad base64, got %q", got)
	}
}

func TestDecodeMediaLocatorRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"not base64",
		base64.StdEncoding.EncodeToString([]byte("short")), // not block-aligned
	}
	for _, in := range cases {
		if decoded, ok := decodeMediaLocator(in); ok {
			t.Errorf("decodeMediaLocator(%q) unexpectedly succeeded: %q", in, decoded)
		}
	}
}
