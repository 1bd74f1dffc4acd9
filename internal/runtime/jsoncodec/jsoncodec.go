// Package jsoncodec is the JSON codec shared by payload producers and the io
// channel backend. It uses sonic in std-compatible mode so output matches
// encoding/json byte for byte.
package jsoncodec

import "github.com/bytedance/sonic"

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}
