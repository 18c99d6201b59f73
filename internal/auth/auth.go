// Package auth validates the 20-byte login signature spec.md §4.4/§6
// describes, against whichever auth method (md5, password, trust) a user's
// meta row names. The exact primitive is out of scope per spec.md §1; this
// picks concrete ones grounded in the frontend protocol being MySQL-wire-
// compatible (§6) and in the teacher's pack.
package auth

import (
	"crypto/sha1"

	"golang.org/x/crypto/bcrypt"

	"github.com/sqlited/sqlited/internal/meta"
	"github.com/sqlited/sqlited/internal/srverr"
)

// SeedLen is the challenge seed / login signature length spec.md §6 gives
// for the handshake init and login reply packets.
const SeedLen = 20

// Challenge generates a fresh SeedLen-byte challenge seed for a new
// connection's handshake packet.
func Challenge(rand func([]byte) (int, error)) ([]byte, error) {
	seed := make([]byte, SeedLen)
	if _, err := rand(seed); err != nil {
		return nil, srverr.Wrap(srverr.KindIOError, err, "generate challenge seed")
	}
	return seed, nil
}

// Verify checks a client-supplied login signature against u's stored
// credentials and auth method.
func Verify(u *meta.User, seed, signature []byte) error {
	switch u.AuthMethod {
	case "trust":
		return nil
	case "md5":
		return verifyScramble([]byte(u.Password), seed, signature)
	case "password":
		return verifyBcrypt([]byte(u.Password), signature)
	default:
		return srverr.New(srverr.KindPermissionDenied, "unknown auth method %q", u.AuthMethod)
	}
}

// ScramblePassword computes the frontend protocol's challenge-response
// scramble for password pw and seed, matching the MySQL-wire-compatible
// scheme named "md5" in spec.md §3/§4.2 despite being SHA1-based (the
// name is the protocol's own historical auth-method identifier, not a
// description of the hash): SHA1(pw) XOR SHA1(seed + SHA1(SHA1(pw))).
func ScramblePassword(pw string, seed []byte) []byte {
	stage1 := sha1.Sum([]byte(pw))
	stage2 := sha1.Sum(stage1[:])

	h := sha1.New()
	h.Write(seed)
	h.Write(stage2[:])
	stage3 := h.Sum(nil)

	out := make([]byte, SeedLen)
	for i := range out {
		out[i] = stage3[i] ^ stage1[i]
	}
	return out
}

func verifyScramble(storedPassword, seed, signature []byte) error {
	if len(signature) != SeedLen {
		return srverr.New(srverr.KindProtocolError, "malformed login signature")
	}
	want := ScramblePassword(string(storedPassword), seed)
	if !constantTimeEqual(want, signature) {
		return srverr.New(srverr.KindPermissionDenied, "authentication failed")
	}
	return nil
}

func verifyBcrypt(storedHash, signature []byte) error {
	if err := bcrypt.CompareHashAndPassword(storedHash, signature); err != nil {
		return srverr.Wrap(srverr.KindPermissionDenied, err, "authentication failed")
	}
	return nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// HashForStorage returns the value stored in the meta user table's
// password column for a newly created/altered user, per authMethod.
func HashForStorage(authMethod, pw string) (string, error) {
	switch authMethod {
	case "trust":
		return "", nil
	case "password":
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
		if err != nil {
			return "", srverr.Wrap(srverr.KindIOError, err, "hash password")
		}
		return string(hash), nil
	case "md5":
		// The scramble is computed per-connection from the seed; the
		// stored value is the plain password so ScramblePassword can be
		// recomputed against each connection's own seed.
		return pw, nil
	default:
		return "", srverr.New(srverr.KindPermissionDenied, "unknown auth method %q", authMethod)
	}
}
