// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptedPrefix marks a stored value as encrypted
// (format: ENC:base64(nonce|ciphertext|tag)).
const EncryptedPrefix = "ENC:"

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // AES-GCM standard nonce
	saltSize  = 32

	// pbkdf2Iterations follows OWASP 2023 guidance for PBKDF2-SHA-256.
	pbkdf2Iterations = 600000
)

var errDecryptFailed = errors.New("decryption failed")

// crypt holds the AEAD used for credential values at rest.
type crypt struct {
	aead cipher.AEAD
}

// newCrypt derives an AES-256-GCM cipher from the passphrase and salt.
func newCrypt(passphrase string, salt []byte) (*crypt, error) {
	dk := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(dk)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &crypt{aead: aead}, nil
}

// encryptString returns EncryptedPrefix + base64(nonce|ciphertext).
func (cr *crypt) encryptString(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := cr.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// decryptString reverses encryptString.
func (cr *crypt) decryptString(value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil || len(raw) < nonceSize {
		return "", errDecryptFailed
	}
	plain, err := cr.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", errDecryptFailed
	}
	return string(plain), nil
}

// IsEncrypted reports whether a stored value carries the encrypted marker.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// EnableEncryption derives the credential cipher from the site-owner
// passphrase. The salt is generated once and kept in the store. Failures are
// absorbed: without a cipher, credentials fall back to plaintext storage, and
// previously encrypted values read as absent.
func (c *Cache) EnableEncryption(passphrase string) {
	if passphrase == "" {
		c.crypt = nil
		return
	}

	salt := c.loadOrCreateSalt()
	if salt == nil {
		return
	}

	cr, err := newCrypt(passphrase, salt)
	if err != nil {
		log.Printf("cache: failed to initialize credential cipher: %v", err)
		return
	}
	c.crypt = cr
}

// EncryptionEnabled reports whether credentials are being encrypted at rest.
func (c *Cache) EncryptionEnabled() bool {
	return c.crypt != nil
}

func (c *Cache) loadOrCreateSalt() []byte {
	if raw, ok := c.store.Get(nsKeySalt); ok {
		salt, err := base64.StdEncoding.DecodeString(raw)
		if err == nil && len(salt) == saltSize {
			return salt
		}
		log.Printf("cache: stored key salt unusable, regenerating")
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		log.Printf("cache: failed to generate key salt: %v", err)
		return nil
	}
	if err := c.store.Set(nsKeySalt, base64.StdEncoding.EncodeToString(salt)); err != nil {
		log.Printf("cache: failed to persist key salt: %v", err)
		return nil
	}
	return salt
}

// sealCredential encrypts a credential when the cipher is available.
func (c *Cache) sealCredential(value string) string {
	if c.crypt == nil || value == "" {
		return value
	}
	enc, err := c.crypt.encryptString(value)
	if err != nil {
		log.Printf("cache: failed to encrypt credential: %v", err)
		return value
	}
	return enc
}

// openCredential decrypts a stored credential. An encrypted value that cannot
// be decrypted (no cipher, wrong key, tampered data) reads as absent.
func (c *Cache) openCredential(value string) string {
	if !IsEncrypted(value) {
		return value
	}
	if c.crypt == nil {
		return ""
	}
	plain, err := c.crypt.decryptString(value)
	if err != nil {
		log.Printf("cache: failed to decrypt credential: %v", err)
		return ""
	}
	return plain
}
