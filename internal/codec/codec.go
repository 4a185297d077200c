// Package codec is the JSON codec used for persisted snapshots, traces and
// CLI output. It is backed by sonic in its encoding/json compatible mode.
package codec

import (
	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

// Marshal encodes v.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// MarshalIndent encodes v with indentation.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// UnmarshalString decodes s into v.
func UnmarshalString(s string, v any) error {
	return api.UnmarshalFromString(s, v)
}
