// Package jsoncodec encodes JSON with sonic using settings compatible with
// encoding/json.
package jsoncodec

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrPathNotFound is returned by Lookup when a path does not resolve.
var ErrPathNotFound = errors.New("json path not found")

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}

// Lookup decodes data and follows path through nested objects. A decode
// failure is returned as is; a path that leaves the object tree wraps
// ErrPathNotFound.
func Lookup(data []byte, path ...string) (any, error) {
	var current any
	if err := Unmarshal(data, &current); err != nil {
		return nil, err
	}

	for i, key := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an object", ErrPathNotFound, strings.Join(path[:i], "."))
		}
		if current, ok = object[key]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, strings.Join(path[:i+1], "."))
		}
	}
	return current, nil
}

// Scalar renders a decoded string, number or boolean. Empty strings,
// objects, arrays and null report false.
func Scalar(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}
