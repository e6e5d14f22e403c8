package catalog

import (
	"crypto/des"
	"encoding/base64"
	"strings"
)

// mediaKey is the fixed single-DES key the upstream catalog uses to obfuscate
// media locators. It is a publicly known constant of the service, not a
// secret, and the encoding is not a security boundary.
const mediaKey = "38346591"

const highBitrateFlag = "true"

// ResolveMediaURL turns the locator fields of a raw record into a playable
// URL. Tiers, in order: the plain locator (unless it points at a preview
// variant), the DES-obfuscated locator, and finally a substitution on the
// preview URL. Every tier failing yields an empty string; decode failures
// never propagate.
func ResolveMediaURL(rawLocator, encryptedLocator, previewURL, bitrateFlag string) string {
	if mediaURL := strings.TrimSpace(rawLocator); mediaURL != "" && !strings.Contains(mediaURL, "preview") {
		return applyBitrateGate(mediaURL, bitrateFlag)
	}

	if decoded, ok := decodeMediaLocator(encryptedLocator); ok {
		decoded = strings.Replace(decoded, "_96.mp4", "_320.mp4", 1)
		return applyBitrateGate(decoded, bitrateFlag)
	}

	preview := strings.TrimSpace(previewURL)
	if preview == "" {
		return ""
	}
	converted := strings.Replace(preview, "preview", "aac", 1)
	return strings.Replace(converted, "_96_p.mp4", "_160.mp4", 1)
}

// applyBitrateGate downgrades a 320kbps locator to 160kbps unless the source
// flagged the record with the literal "true". Mirrors the upstream quality
// gating.
func applyBitrateGate(mediaURL, bitrateFlag string) string {
	if bitrateFlag != highBitrateFlag && strings.Contains(mediaURL, "_320.mp4") {
		return strings.Replace(mediaURL, "_320.mp4", "_160.mp4", 1)
	}
	return mediaURL
}

// decodeMediaLocator reverses the upstream obfuscation: base64, then single
// DES in ECB mode with PKCS5 padding. ECB is deliberately absent from
// crypto/cipher's mode helpers, so the per-block loop is spelled out here.
func decodeMediaLocator(encrypted string) (string, bool) {
	encrypted = strings.TrimSpace(encrypted)
	if encrypted == "" {
		return "", false
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", false
	}

	block, err := des.NewCipher([]byte(mediaKey))
	if err != nil {
		return "", false
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return "", false
	}

	plaintext := make([]byte, len(ciphertext))
	for offset := 0; offset < len(ciphertext); offset += block.BlockSize() {
		block.Decrypt(plaintext[offset:offset+block.BlockSize()], ciphertext[offset:offset+block.BlockSize()])
	}

	unpadded, ok := stripPKCS5(plaintext, block.BlockSize())
	if !ok {
		return "", false
	}
	return string(unpadded), true
}

func stripPKCS5(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	padding := int(data[len(data)-1])
	if padding <= 0 || padding > blockSize || padding > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, false
		}
	}
	return data[:len(data)-padding], true
}
