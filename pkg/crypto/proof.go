package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SourceProof is the hex SHA-256 of the source tag followed by the sender identity.
func SourceProof(sourceTag, sender string) string {
	sum := sha256.Sum256([]byte(sourceTag + sender))
	return hex.EncodeToString(sum[:])
}

func VerifySourceProof(sourceTag, sender, proof string) bool {
	expected := SourceProof(sourceTag, sender)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(proof)) == 1
}
