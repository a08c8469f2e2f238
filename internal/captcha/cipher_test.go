package captcha

import (
	"crypto/aes"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decryptECB reverses EncryptPoints for round-trip checks. Test-only.
func decryptECB(t *testing.T, payload, key string) []byte {
	t.Helper()

	ciphertext, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)

	block, err := aes.NewCipher([]byte(key))
	require.NoError(t, err)
	require.Zero(t, len(ciphertext)%block.BlockSize(), "ciphertext not block-aligned")

	plaintext := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += block.BlockSize() {
		block.Decrypt(plaintext[i:], ciphertext[i:])
	}

	padding := int(plaintext[len(plaintext)-1])
	require.Greater(t, padding, 0)
	require.LessOrEqual(t, padding, block.BlockSize())
	return plaintext[:len(plaintext)-padding]
}

func testAssignment() SlotAssignment {
	return SlotAssignment{
		&Point{X: 57, Y: 45},
		&Point{X: 130, Y: 82},
		&Point{X: 242, Y: 61},
		&Point{X: 341, Y: 107},
	}
}

func TestEncryptPointsRoundTrip(t *testing.T) {
	const key = "0123456789abcdef"
	assignment := testAssignment()

	payload, err := EncryptPoints(assignment, key)
	require.NoError(t, err)

	plaintext := decryptECB(t, payload, key)

	var points []Point
	require.NoError(t, json.Unmarshal(plaintext, &points))
	assert.Equal(t, assignment.Points(), points)
}

func TestEncryptPointsPayloadShape(t *testing.T) {
	const key = "0123456789abcdef"
	payload, err := EncryptPoints(testAssignment(), key)
	require.NoError(t, err)

	plaintext := decryptECB(t, payload, key)
	// Compact serialization: lower-case keys, x before y, no whitespace.
	assert.Equal(t,
		`[{"x":57,"y":45},{"x":130,"y":82},{"x":242,"y":61},{"x":341,"y":107}]`,
		string(plaintext))
}

func TestEncryptPointsRejectsBadKey(t *testing.T) {
	_, err := EncryptPoints(testAssignment(), "short")
	require.Error(t, err)
}
