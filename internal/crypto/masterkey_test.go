package crypto_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultcheck/internal/crypto"
	"github.com/TheMichaelB/vaultcheck/internal/models"
)

const testCost = 16

func TestMasterkey_CreateParseUnlock(t *testing.T) {
	mk, err := crypto.CreateMasterkey("correct horse", testCost)
	require.NoError(t, err)

	data, err := mk.Marshal()
	require.NoError(t, err)

	parsed, err := crypto.ParseMasterkey(data)
	require.NoError(t, err)
	assert.Equal(t, crypto.MasterkeyVersion, parsed.Version)
	assert.Equal(t, testCost, parsed.ScryptCostParam)

	cryptor, err := crypto.Unlock(parsed, "correct horse")
	require.NoError(t, err)
	defer cryptor.Destroy()

	// Keys unwrapped from the parsed copy match the original.
	original, err := crypto.Unlock(mk, "correct horse")
	require.NoError(t, err)
	defer original.Destroy()

	a, err := cryptor.EncryptName("", "notes.md")
	require.NoError(t, err)
	b, err := original.EncryptName("", "notes.md")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMasterkey_WrongPassphrase(t *testing.T) {
	mk, err := crypto.CreateMasterkey("secret", testCost)
	require.NoError(t, err)

	_, err = crypto.Unlock(mk, "not the secret")
	assert.ErrorIs(t, err, models.ErrInvalidPassphrase)
}

func TestMasterkey_PassphraseNormalized(t *testing.T) {
	// "é" precomposed vs. e + combining acute
	mk, err := crypto.CreateMasterkey("caf\u00e9", testCost)
	require.NoError(t, err)

	cryptor, err := crypto.Unlock(mk, "cafe\u0301")
	require.NoError(t, err)
	cryptor.Destroy()
}

func TestParseMasterkey_Invalid(t *testing.T) {
	mk, err := crypto.CreateMasterkey("secret", testCost)
	require.NoError(t, err)
	valid, err := mk.Marshal()
	require.NoError(t, err)

	mutate := func(fn func(m map[string]interface{})) []byte {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(valid, &m))
		fn(m)
		out, err := json.Marshal(m)
		require.NoError(t, err)
		return out
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("{garbage")},
		{"empty", []byte("")},
		{"wrong version", mutate(func(m map[string]interface{}) { m["version"] = 7 })},
		{"cost not power of two", mutate(func(m map[string]interface{}) { m["scryptCostParam"] = 1000 })},
		{"cost too small", mutate(func(m map[string]interface{}) { m["scryptCostParam"] = 1 })},
		{"zero block size", mutate(func(m map[string]interface{}) { m["scryptBlockSize"] = 0 })},
		{"bad salt", mutate(func(m map[string]interface{}) { m["scryptSalt"] = "!!" })},
		{"short primary key", mutate(func(m map[string]interface{}) { m["primaryMasterKey"] = "AAAA" })},
		{"missing hmac key", mutate(func(m map[string]interface{}) { delete(m, "hmacMasterKey") })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := crypto.ParseMasterkey(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrMasterkeyInvalid)
		})
	}
}
