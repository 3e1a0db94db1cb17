package crypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"

	"github.com/TheMichaelB/vaultcheck/internal/models"
)

// MasterkeyVersion is the only masterkey file format understood.
const MasterkeyVersion = 1

// wrappedKeyLen is nonce || key || tag.
const wrappedKeyLen = NonceSize + KeySize + TagSize

// MasterkeyFile is the on-disk masterkey.json.
type MasterkeyFile struct {
	Version          int    `json:"version"`
	ScryptSalt       string `json:"scryptSalt"`
	ScryptCostParam  int    `json:"scryptCostParam"`
	ScryptBlockSize  int    `json:"scryptBlockSize"`
	PrimaryMasterKey string `json:"primaryMasterKey"`
	HmacMasterKey    string `json:"hmacMasterKey"`

	salt       []byte
	wrappedEnc []byte
	wrappedMac []byte
}

// ParseMasterkey decodes and validates a masterkey file. Failures wrap models.ErrMasterkeyInvalid.
func ParseMasterkey(data []byte) (*MasterkeyFile, error) {
	var mk MasterkeyFile
	if err := json.Unmarshal(data, &mk); err != nil {
		return nil, fmt.Errorf("%w: parse JSON: %v", models.ErrMasterkeyInvalid, err)
	}

	if mk.Version != MasterkeyVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", models.ErrMasterkeyInvalid, mk.Version)
	}

	n := mk.ScryptCostParam
	if n < 2 || n&(n-1) != 0 {
		return nil, fmt.Errorf("%w: scrypt cost %d is not a power of two", models.ErrMasterkeyInvalid, n)
	}

	if mk.ScryptBlockSize <= 0 {
		return nil, fmt.Errorf("%w: scrypt block size %d", models.ErrMasterkeyInvalid, mk.ScryptBlockSize)
	}

	var err error
	if mk.salt, err = base64.StdEncoding.DecodeString(mk.ScryptSalt); err != nil || len(mk.salt) == 0 {
		return nil, fmt.Errorf("%w: bad scrypt salt", models.ErrMasterkeyInvalid)
	}

	if mk.wrappedEnc, err = decodeWrapped(mk.PrimaryMasterKey); err != nil {
		return nil, fmt.Errorf("%w: primary key: %v", models.ErrMasterkeyInvalid, err)
	}

	if mk.wrappedMac, err = decodeWrapped(mk.HmacMasterKey); err != nil {
		return nil, fmt.Errorf("%w: hmac key: %v", models.ErrMasterkeyInvalid, err)
	}

	return &mk, nil
}

func decodeWrapped(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(b) != wrappedKeyLen {
		return nil, fmt.Errorf("wrapped key is %d bytes, want %d", len(b), wrappedKeyLen)
	}
	return b, nil
}

// Marshal encodes the masterkey file.
func (mk *MasterkeyFile) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(mk, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal masterkey: %w", err)
	}
	return append(data, '\n'), nil
}

// CreateMasterkey generates fresh vault keys wrapped under passphrase.
func CreateMasterkey(passphrase string, cost int) (*MasterkeyFile, error) {
	salt, err := randomBytes(ScryptSaltLen)
	if err != nil {
		return nil, err
	}

	kek, err := deriveKEK(passphrase, salt, cost, ScryptR)
	if err != nil {
		return nil, err
	}
	defer wipe(kek)

	encKey, err := randomBytes(KeySize)
	if err != nil {
		return nil, err
	}
	defer wipe(encKey)

	macKey, err := randomBytes(KeySize)
	if err != nil {
		return nil, err
	}
	defer wipe(macKey)

	wrappedEnc, err := EncryptData(encKey, kek)
	if err != nil {
		return nil, fmt.Errorf("wrap primary key: %w", err)
	}

	wrappedMac, err := EncryptData(macKey, kek)
	if err != nil {
		return nil, fmt.Errorf("wrap hmac key: %w", err)
	}

	return &MasterkeyFile{
		Version:          MasterkeyVersion,
		ScryptSalt:       base64.StdEncoding.EncodeToString(salt),
		ScryptCostParam:  cost,
		ScryptBlockSize:  ScryptR,
		PrimaryMasterKey: base64.StdEncoding.EncodeToString(wrappedEnc),
		HmacMasterKey:    base64.StdEncoding.EncodeToString(wrappedMac),
		salt:             salt,
		wrappedEnc:       wrappedEnc,
		wrappedMac:       wrappedMac,
	}, nil
}

// Unlock unwraps the vault keys. A wrong passphrase returns models.ErrInvalidPassphrase.
func Unlock(mk *MasterkeyFile, passphrase string) (*VaultCryptor, error) {
	kek, err := deriveKEK(passphrase, mk.salt, mk.ScryptCostParam, mk.ScryptBlockSize)
	if err != nil {
		return nil, err
	}
	defer wipe(kek)

	encKey, err := DecryptData(mk.wrappedEnc, kek)
	if err != nil {
		return nil, models.ErrInvalidPassphrase
	}

	macKey, err := DecryptData(mk.wrappedMac, kek)
	if err != nil {
		wipe(encKey)
		return nil, models.ErrInvalidPassphrase
	}

	return newVaultCryptor(encKey, macKey), nil
}

func deriveKEK(passphrase string, salt []byte, n, r int) ([]byte, error) {
	key, err := scrypt.Key([]byte(norm.NFC.String(passphrase)), salt, n, r, ScryptP, KeySize)
	if err != nil {
		return nil, fmt.Errorf("scrypt key derivation: %w", err)
	}
	return key, nil
}
