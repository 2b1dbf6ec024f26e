package utils

import (
	"math/rand"
	"sync/atomic"
	"time"
)

// ============================================================
// Timestamp
// ============================================================

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// DayKey - дата в UTC в виде числа YYYYMMDD
func DayKey(t time.Time) int64 {
	y, m, d := t.UTC().Date()
	return int64(y)*10000 + int64(m)*100 + int64(d)
}

// ============================================================
// Числовые идентификаторы ордеров
// ============================================================

// idSpan - ёмкость суффикса внутри одного дня
const idSpan = 1_000_000

// idSeq стартует со случайного значения, чтобы перезапуск процесса
// в тот же день не повторял cid предыдущего запуска.
var idSeq atomic.Int64

func init() {
	idSeq.Store(rand.Int63n(100_000))
}

// NumericID выдаёт возрастающий id вида YYYYMMDDNNNNNN.
// Уникальность только локальная: достаточно, чтобы биржа не
// склеила два разных ордера по client id.
func NumericID() int64 {
	return NumericIDAt(time.Now())
}

// NumericIDAt - детерминированный вариант для тестов
func NumericIDAt(now time.Time) int64 {
	seq := idSeq.Add(1) % idSpan
	return DayKey(now)*idSpan + seq
}
