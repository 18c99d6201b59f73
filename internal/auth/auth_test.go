package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlited/sqlited/internal/meta"
)

func TestScrambleRoundTrip(t *testing.T) {
	seed := []byte("01234567890123456789")[:SeedLen]
	sig := ScramblePassword("hunter2", seed)
	require.Len(t, sig, SeedLen)

	u := &meta.User{AuthMethod: "md5", Password: "hunter2"}
	assert.NoError(t, Verify(u, seed, sig))

	bad := ScramblePassword("wrong", seed)
	assert.Error(t, Verify(u, seed, bad))
}

func TestTrustAlwaysSucceeds(t *testing.T) {
	u := &meta.User{AuthMethod: "trust"}
	assert.NoError(t, Verify(u, []byte("seed"), []byte("anything")))
}

func TestPasswordMethodUsesBcrypt(t *testing.T) {
	hash, err := HashForStorage("password", "correct horse")
	require.NoError(t, err)

	u := &meta.User{AuthMethod: "password", Password: hash}
	assert.NoError(t, Verify(u, nil, []byte("correct horse")))
	assert.Error(t, Verify(u, nil, []byte("wrong horse")))
}

func TestUnknownAuthMethodRejected(t *testing.T) {
	u := &meta.User{AuthMethod: "gssapi"}
	assert.Error(t, Verify(u, nil, nil))
}
