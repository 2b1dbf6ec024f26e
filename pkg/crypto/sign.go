package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strings"
)

// sign.go - канонизация запросов и HMAC-подпись для приватных API бирж

// ErrSignature - некорректный payload или секрет; отправка отменяется
var ErrSignature = errors.New("signature error")

// Algorithm - хеш-функция HMAC, которую требует биржа
type Algorithm int

const (
	SHA256 Algorithm = iota
	SHA384
)

func (a Algorithm) String() string {
	switch a {
	case SHA256:
		return "HMAC-SHA256"
	case SHA384:
		return "HMAC-SHA384"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

func (a Algorithm) hasher() (func() hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New, nil
	case SHA384:
		return sha512.New384, nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %d", ErrSignature, int(a))
	}
}

// Param - пара ключ/значение в порядке вставки
type Param struct {
	Key   string
	Value string
}

// Params - упорядоченный набор параметров.
// map не подходит: часть бирж подписывает строку в порядке вставки.
type Params []Param

// Add добавляет параметр и возвращает набор (для цепочек)
func (p Params) Add(key, value string) Params {
	return append(p, Param{Key: key, Value: value})
}

// Get возвращает значение по ключу
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Canonical собирает строку "k=v&k=v". Исходный набор не меняется.
func (p Params) Canonical(sortKeys bool) string {
	items := p
	if sortKeys {
		items = make(Params, len(p))
		copy(items, p)
		sort.SliceStable(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	}

	var b strings.Builder
	for i, kv := range items {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(kv.Key)
		b.WriteByte('=')
		b.WriteString(kv.Value)
	}
	return b.String()
}

// Signature - каноническая строка и подпись в lowercase hex
type Signature struct {
	Canonical string
	Hex       string
}

// Sign канонизирует params как query-строку и подписывает её.
// Чистая функция: одинаковый вход всегда даёт одинаковую подпись.
func Sign(params Params, secret string, sortKeys bool, algo Algorithm) (Signature, error) {
	if len(params) == 0 {
		return Signature{}, fmt.Errorf("%w: empty payload", ErrSignature)
	}
	canonical := params.Canonical(sortKeys)
	sig, err := SignString(canonical, secret, algo)
	if err != nil {
		return Signature{}, err
	}
	return Signature{Canonical: canonical, Hex: sig}, nil
}

// PathCanonical - форма "/api/{path}{nonce}{body}" (Bitfinex v2 REST)
func PathCanonical(path, nonce, body string) string {
	return "/api/" + strings.TrimPrefix(path, "/") + nonce + body
}

// SignPath подписывает path-prefixed каноническую форму
func SignPath(path, nonce, body, secret string, algo Algorithm) (Signature, error) {
	if path == "" || nonce == "" {
		return Signature{}, fmt.Errorf("%w: path and nonce are required", ErrSignature)
	}
	canonical := PathCanonical(path, nonce, body)
	sig, err := SignString(canonical, secret, algo)
	if err != nil {
		return Signature{}, err
	}
	return Signature{Canonical: canonical, Hex: sig}, nil
}

// SignString - HMAC произвольной строки (например "AUTH{nonce}")
func SignString(payload, secret string, algo Algorithm) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: empty secret", ErrSignature)
	}
	newHash, err := algo.hasher()
	if err != nil {
		return "", err
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
