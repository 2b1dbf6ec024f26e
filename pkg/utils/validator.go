package utils

import (
	"fmt"
	"math"
	"strings"
)

// validator.go - проверка входных параметров конфигурации

// ValidateAsset проверяет тикер базового актива (BTC, ETH, 1INCH)
func ValidateAsset(asset string) error {
	if len(asset) < 2 || len(asset) > 10 {
		return fmt.Errorf("asset %q: length must be 2..10", asset)
	}
	for _, r := range asset {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("asset %q: only A-Z and 0-9 allowed", asset)
		}
	}
	return nil
}

// ValidatePositive - значение > 0 и конечное
func ValidatePositive(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%s must be > 0, got %v", name, v)
	}
	return nil
}

// ValidateFraction - значение в (0, 1]
func ValidateFraction(name string, v float64) error {
	if math.IsNaN(v) || v <= 0 || v > 1 {
		return fmt.Errorf("%s must be in (0, 1], got %v", name, v)
	}
	return nil
}

// ValidateAddress - базовая проверка адреса вывода
func ValidateAddress(addr string) error {
	if len(addr) < 8 {
		return fmt.Errorf("address %q is too short", addr)
	}
	if strings.ContainsAny(addr, " \t\n:") {
		return fmt.Errorf("address %q contains forbidden characters", addr)
	}
	return nil
}
