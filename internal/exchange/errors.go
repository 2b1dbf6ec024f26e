package exchange

import (
	"errors"
	"fmt"

	"spotarb/pkg/crypto"
)

// Таксономия ошибок шлюзов. Ни одна из них не пересекает границу
// движка как паника: движок видит либо «нет баланса», либо «нет сделки».
var (
	// ErrBalanceNotFound - биржа не сообщала баланс актива; трактуется как ноль
	ErrBalanceNotFound = errors.New("balance not found")
	// ErrInsufficientBalance - размер больше отслеживаемого баланса; отменяет одну отправку
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrMalformedMessage - кадр не разобран; отбрасывается, поток продолжается
	ErrMalformedMessage = errors.New("malformed message")
	// ErrSignature - некорректный payload/секрет
	ErrSignature = crypto.ErrSignature
	// ErrNotConnected - приватный канал не открыт
	ErrNotConnected = errors.New("not connected")
	// ErrUnknownExchange - в реестре нет шлюза с таким кодом
	ErrUnknownExchange = errors.New("unknown exchange")
)

// Коды ExchangeError, не пришедшие от биржи
const (
	CodeNetwork  = "NETWORK"
	CodeReadOnly = "READ_ONLY"
)

// ExchangeError - ошибка конкретной биржи.
// Code == CodeNetwork - сбой транспорта REST (NetworkError),
// любой другой код - отказ самой биржи (VenueRejected).
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Exchange, e.Code, e.Message)
	}
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

func newNetworkError(exchange string, err error) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Code: CodeNetwork, Message: err.Error(), Original: err}
}

func newVenueError(exchange, code, msg string) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Code: code, Message: msg}
}

func readOnlyError(exchange, op string) *ExchangeError {
	return newVenueError(exchange, CodeReadOnly, op+" is not supported: market data only")
}

// IsNetworkError - сбой транспорта при REST-вызове
func IsNetworkError(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee) && ee.Code == CodeNetwork
}

// IsVenueRejected - биржа ответила ошибкой
func IsVenueRejected(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee) && ee.Code != CodeNetwork
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrMalformedMessage}, args...)...)
}
