package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"spotarb/internal/exchange"
	"spotarb/pkg/crypto"
)

// Provider - источник строковых параметров (ключи бирж, символы)
type Provider interface {
	Get(key string) string
}

// ErrMissingPassphrase - в окружении есть "enc:" значения, но нет пароля
var ErrMissingPassphrase = errors.New("CREDENTIALS_PASSPHRASE is required to decrypt enc: secrets")

// EnvProvider читает окружение (после godotenv.Load).
// Значения "enc:..." расшифровываются ключом из CREDENTIALS_PASSPHRASE.
type EnvProvider struct {
	lookup func(string) (string, bool)
	key    []byte
}

// NewEnvProvider выводит ключ только если задан пароль:
// scrypt заметно медленный, а без зашифрованных значений он не нужен.
func NewEnvProvider(sec SecurityConfig) (*EnvProvider, error) {
	p := &EnvProvider{lookup: os.LookupEnv}
	if sec.Passphrase != "" {
		key, err := crypto.DeriveKey(sec.Passphrase, sec.Salt)
		if err != nil {
			return nil, fmt.Errorf("derive credentials key: %w", err)
		}
		p.key = key
	}
	return p, nil
}

// WithLookup подменяет источник значений (тесты)
func (p *EnvProvider) WithLookup(lookup func(string) (string, bool)) *EnvProvider {
	p.lookup = lookup
	return p
}

// Get - значение как есть; пусто, если переменной нет
func (p *EnvProvider) Get(key string) string {
	v, _ := p.lookup(key)
	return strings.TrimSpace(v)
}

// Secret - значение с расшифровкой "enc:"
func (p *EnvProvider) Secret(key string) (string, error) {
	v := p.Get(key)
	if !crypto.IsEncrypted(v) {
		return v, nil
	}
	if p.key == nil {
		return "", fmt.Errorf("%s: %w", key, ErrMissingPassphrase)
	}
	plain, err := crypto.OpenSecret(v, p.key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return plain, nil
}

// Credentials - ключ биржи из <CODE>_CLIENT_ID и <CODE>_CLIENT_SECRET.
// Оба значения могут быть зашифрованы. Пустые ключи означают
// режим только котировок.
func (p *EnvProvider) Credentials(code string) (exchange.Credentials, error) {
	prefix := strings.ToUpper(code)
	id, err := p.Secret(prefix + "_CLIENT_ID")
	if err != nil {
		return exchange.Credentials{}, err
	}
	secret, err := p.Secret(prefix + "_CLIENT_SECRET")
	if err != nil {
		return exchange.Credentials{}, err
	}
	return exchange.Credentials{APIKey: id, Secret: secret}, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
