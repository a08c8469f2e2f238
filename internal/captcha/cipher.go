package captcha

import (
	"crypto/aes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncryptPoints serializes the four solution points as compact JSON and
// encrypts them with AES-ECB under the challenge's session secret,
// returning base64 ciphertext ready for the verify call.
//
// ECB with a server-provided key is the target's convention, not ours to
// fix: the payload is single-use and bound to one session_id/secret pair.
func EncryptPoints(assignment SlotAssignment, sessionSecret string) (string, error) {
	plaintext, err := json.Marshal(assignment.Points())
	if err != nil {
		return "", fmt.Errorf("marshal points: %w", err)
	}

	block, err := aes.NewCipher([]byte(sessionSecret))
	if err != nil {
		return "", fmt.Errorf("session secret is not a valid AES key: %w", err)
	}

	padded := padPKCS7(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	for i := 0; i < len(padded); i += block.BlockSize() {
		block.Encrypt(ciphertext[i:], padded[i:])
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func padPKCS7(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}
