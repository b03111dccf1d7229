package axpro

import (
	"crypto/sha256"
	"encoding/hex"
)

// sessionDigest computes the login digest for the salted, iterated
// challenge-response scheme advertised by the capability response.
//
// Irreversible scheme: the password is folded with the username and both
// salts, chained with the challenge, then hashed iterations-2 further times.
// Reversible scheme: a plain SHA-256 of the password concatenated with the
// challenge, hashed iterations-1 times in total.
func sessionDigest(cap sessionCapabilities, username, password string) string {
	if cap.IsIrreversible {
		digest := sha256Hex(username + cap.Salt + password)
		digest = sha256Hex(username + cap.Salt2 + digest)
		digest = sha256Hex(digest + cap.Challenge)
		for i := 2; i < cap.Iterations; i++ {
			digest = sha256Hex(digest)
		}
		return digest
	}

	digest := sha256Hex(password) + cap.Challenge
	for i := 1; i < cap.Iterations; i++ {
		digest = sha256Hex(digest)
	}
	return digest
}

func sha256Hex(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
