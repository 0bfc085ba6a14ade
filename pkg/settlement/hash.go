// Copyright 2025 Certen Protocol

package settlement

import "crypto/sha256"

func sha256JobID(jobID string) [32]byte {
	return sha256.Sum256([]byte(jobID))
}

func sha256String(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}
