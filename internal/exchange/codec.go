package exchange

import (
	"bytes"
	stdjson "encoding/json"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// Кадры бирж декодируются jsoniter в режиме совместимости со stdlib
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// strictJSON различает регистр ключей: у Binance "b" и "B" - разные поля
var strictJSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	CaseSensitive:          true,
}.Froze()

// rawMessage - отложенный разбор элементов массивных кадров (Bitfinex)
type rawMessage = stdjson.RawMessage

// flexFloat принимает число как 1.5, "1.5" или null.
// Биржи шлют цены то строками, то числами.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return malformed("bad quoted number %s", data)
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return malformed("bad number %q", s)
		}
		*f = flexFloat(v)
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return malformed("bad number %s", data)
	}
	*f = flexFloat(v)
	return nil
}

func (f flexFloat) Float() float64 { return float64(f) }

// priceLevel - уровень стакана в виде ["price","size"] или {"price":..,"size":..}
type priceLevel struct {
	Price flexFloat
	Size  flexFloat
}

func (p *priceLevel) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return malformed("empty level")
	}
	if data[0] == '[' {
		var arr []flexFloat
		if err := json.Unmarshal(data, &arr); err != nil {
			return malformed("level %s: %v", data, err)
		}
		if len(arr) < 2 {
			return malformed("level %s: want [price, size]", data)
		}
		p.Price, p.Size = arr[0], arr[1]
		return nil
	}
	var obj struct {
		Price flexFloat `json:"price"`
		Size  flexFloat `json:"size"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return malformed("level %s: %v", data, err)
	}
	p.Price, p.Size = obj.Price, obj.Size
	return nil
}
