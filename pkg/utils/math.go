package utils

import (
	"math"
	"strconv"
)

// math.go - округление объёмов и цен под требования бирж

// lotEpsilon гасит ошибку представления float64 (0.3/0.1 = 2.9999999999999996)
const lotEpsilon = 1e-9

// RoundToLotSize округляет значение ВНИЗ до кратного lotSize.
// Округление вниз не даёт превысить доступный баланс.
// Если lotSize <= 0, значение возвращается как есть.
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(1.999, 0.01) = 1.99
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	steps := math.Floor(value/lotSize + lotEpsilon)
	return roundTo(steps*lotSize, Decimals(lotSize))
}

// Decimals - число знаков после запятой в шаге (0.001 -> 3, 1 -> 0)
func Decimals(step float64) int {
	if step <= 0 || step >= 1 {
		return 0
	}
	s := strconv.FormatFloat(step, 'f', -1, 64)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return len(s) - i - 1
		}
	}
	return 0
}

// FormatDecimal форматирует число с фиксированной точностью (аналог toFixed)
func FormatDecimal(value float64, decimals int) string {
	return strconv.FormatFloat(value, 'f', decimals, 64)
}

// FormatAmount - компактная запись объёма без хвостовых нулей
func FormatAmount(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// CoarserStep возвращает больший из двух шагов лота.
// Нулевой шаг означает «без ограничения».
func CoarserStep(a, b float64) float64 {
	return math.Max(a, b)
}

func roundTo(value float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(value*p) / p
}

// Min возвращает минимум из набора чисел.
func Min(first float64, rest ...float64) float64 {
	m := first
	for _, v := range rest {
		if v < m {
			m = v
		}
	}
	return m
}
