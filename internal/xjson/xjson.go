// Package xjson — единая точка JSON-кодирования для сообщений, истории и хранилищ.
//
// Использует goccy/go-json; вызывающий код не зависит от конкретной библиотеки.
package xjson

import (
	stdjson "encoding/json"
	"io"

	gjson "github.com/goccy/go-json"
)

// RawMessage совместим с encoding/json.RawMessage.
type RawMessage = stdjson.RawMessage

// Marshal сериализует значение в JSON.
func Marshal(v any) ([]byte, error) {
	return gjson.Marshal(v)
}

// MarshalIndent сериализует значение в JSON с отступами.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return gjson.MarshalIndent(v, prefix, indent)
}

// Unmarshal десериализует JSON в значение.
func Unmarshal(data []byte, v any) error {
	return gjson.Unmarshal(data, v)
}

// NewDecoder создаёт потоковый декодер.
func NewDecoder(r io.Reader) *gjson.Decoder {
	return gjson.NewDecoder(r)
}

// NewEncoder создаёт потоковый энкодер.
func NewEncoder(w io.Writer) *gjson.Encoder {
	return gjson.NewEncoder(w)
}

// Convert перекладывает значение в другой тип через JSON
// (например, map[string]any → типизированный payload).
func Convert[T any](v any) (T, error) {
	var out T
	data, err := Marshal(v)
	if err != nil {
		return out, err
	}
	err = Unmarshal(data, &out)
	return out, err
}
