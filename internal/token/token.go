// Package token provides the secret and hashing primitives every RevClaw
// credential is built from: opaque random tokens, one-way secret hashes,
// and deterministic payload hashes for approval binding.
//
// Contract: any function that returns a plaintext secret does so exactly
// once, at creation time. Everything persisted or logged afterwards is a
// hash.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// GenerateOpaque returns a cryptographically secure random token of
// byteLength random bytes, hex encoded. Used for agent secrets, claim
// ids, exchange codes, and approval tokens.
func GenerateOpaque(byteLength int) (string, error) {
	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashSecret one-way hashes an agent secret with bcrypt. The secret is
// pre-digested with SHA-256 because composed agent secrets exceed
// bcrypt's 72-byte input cap.
func HashSecret(secret string, cost int) (string, error) {
	d := sha256.Sum256([]byte(secret))
	h, err := bcrypt.GenerateFromPassword(d[:], cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}

// VerifySecret reports whether candidate matches the stored bcrypt hash.
// bcrypt comparison is constant-time over the derived key.
func VerifySecret(candidate, hash string) bool {
	d := sha256.Sum256([]byte(candidate))
	return bcrypt.CompareHashAndPassword([]byte(hash), d[:]) == nil
}

// HashToken one-way hashes high-entropy bearer material (exchange codes,
// access tokens, plan approval tokens) with SHA-256. The inputs are
// random 128-bit-plus values, so an unsalted digest is sufficient and
// keeps lookups indexable.
func HashToken(tok string) string {
	h := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(h[:])
}

// SHA256Hex returns the hex SHA-256 digest of content. Used for manifest
// integrity snapshots.
func SHA256Hex(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// HashPayload returns a deterministic hex SHA-256 digest over the
// canonical JSON form of v. Structurally equal payloads hash identically
// regardless of original key order, which is what lets an approval bind
// to exact content.
func HashPayload(v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

// CanonicalJSON renders v as JSON with object keys in a stable order at
// every nesting depth. Marshal-unmarshal-marshal normalizes struct field
// order into map key order, which encoding/json sorts.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}
	canonical, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return canonical, nil
}
