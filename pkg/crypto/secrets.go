package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// secrets.go - хранение API-секретов бирж в зашифрованном виде.
// Значение вида "enc:<base64>" расшифровывается ключом, выведенным
// из пароля через scrypt.

// EncryptedPrefix помечает зашифрованное значение в окружении
const EncryptedPrefix = "enc:"

// Ошибки шифрования
var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed: authentication error")
	ErrEmptyPassphrase    = errors.New("passphrase is empty")
)

// Параметры scrypt: N=2^15, r=8, p=1 (рекомендация x/crypto для интерактивных ключей)
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	aes256KeyLen = 32
)

// DeriveKey выводит 32-байтный ключ AES-256 из пароля
func DeriveKey(passphrase, salt string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	return scrypt.Key([]byte(passphrase), []byte(salt), scryptN, scryptR, scryptP, aes256KeyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != aes256KeyLen {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt шифрует plaintext AES-256-GCM; результат nonce||ciphertext в base64
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt - обратная операция к Encrypt
func Decrypt(ciphertextBase64 string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrCiphertextTooShort
	}

	nonce, data := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsEncrypted - значение помечено префиксом "enc:"
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// SealSecret шифрует секрет и добавляет префикс (утилита для подготовки .env)
func SealSecret(plaintext string, key []byte) (string, error) {
	enc, err := Encrypt(plaintext, key)
	if err != nil {
		return "", err
	}
	return EncryptedPrefix + enc, nil
}

// OpenSecret расшифровывает значение с префиксом "enc:".
// Значение без префикса возвращается как есть.
func OpenSecret(value string, key []byte) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	return Decrypt(strings.TrimPrefix(value, EncryptedPrefix), key)
}
