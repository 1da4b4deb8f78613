package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"custodial-ledger/pkg/apperror"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
)

const (
	vaultSaltSize  = 16
	vaultNonceSize = 12
	vaultTagSize   = 16
	vaultKeySize   = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// vaultMasterSalt is fixed so the same secret always yields the same master
// key across restarts. Per-blob randomness comes from the HKDF salt.
var vaultMasterSalt = []byte("custodial-ledger/key-vault/master")

var vaultHKDFInfo = []byte("custodial-ledger/key-vault/blob")

// AESKeyVault implements ports.KeyVault using AES-256-GCM.
// Blobs are hex(salt(16) + nonce(12) + tag(16) + ciphertext).
type AESKeyVault struct {
	master []byte
}

// NewAESKeyVault derives the master key from secret. Derivation is slow on
// purpose and happens once per process.
func NewAESKeyVault(secret string) (*AESKeyVault, error) {
	if secret == "" {
		return nil, errors.New("vault secret is empty")
	}
	master, err := scrypt.Key([]byte(secret), vaultMasterSalt, scryptN, scryptR, scryptP, vaultKeySize)
	if err != nil {
		return nil, fmt.Errorf("deriving master key: %w", err)
	}
	return &AESKeyVault{master: master}, nil
}

func (v *AESKeyVault) blobCipher(salt []byte) (cipher.AEAD, error) {
	key := make([]byte, vaultKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, v.master, salt, vaultHKDFInfo), key); err != nil {
		return nil, fmt.Errorf("deriving blob key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, vaultNonceSize)
}

// Encrypt seals plaintext under a fresh salt and nonce.
func (v *AESKeyVault) Encrypt(plaintext string) (string, error) {
	header := make([]byte, vaultSaltSize+vaultNonceSize)
	if _, err := io.ReadFull(rand.Reader, header); err != nil {
		return "", apperror.ErrEncryptionFailure(fmt.Errorf("generating salt: %w", err))
	}
	salt, nonce := header[:vaultSaltSize], header[vaultSaltSize:]

	aead, err := v.blobCipher(salt)
	if err != nil {
		return "", apperror.ErrEncryptionFailure(err)
	}

	// Seal returns ciphertext followed by the tag.
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-vaultTagSize], sealed[len(sealed)-vaultTagSize:]

	out := make([]byte, 0, len(header)+len(sealed))
	out = append(out, header...)
	out = append(out, tag...)
	out = append(out, ct...)
	return hex.EncodeToString(out), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed or tampered blob
// fails with a decryption error.
func (v *AESKeyVault) Decrypt(blob string) (string, error) {
	raw, err := hex.DecodeString(blob)
	if err != nil {
		return "", apperror.ErrDecryption(fmt.Errorf("decoding blob: %w", err))
	}
	if len(raw) < vaultSaltSize+vaultNonceSize+vaultTagSize {
		return "", apperror.ErrDecryption(errors.New("blob too short"))
	}

	salt := raw[:vaultSaltSize]
	nonce := raw[vaultSaltSize : vaultSaltSize+vaultNonceSize]
	tag := raw[vaultSaltSize+vaultNonceSize : vaultSaltSize+vaultNonceSize+vaultTagSize]
	ct := raw[vaultSaltSize+vaultNonceSize+vaultTagSize:]

	aead, err := v.blobCipher(salt)
	if err != nil {
		return "", apperror.ErrDecryption(err)
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", apperror.ErrDecryption(err)
	}
	return string(plaintext), nil
}
