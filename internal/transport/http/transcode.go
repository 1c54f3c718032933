package http

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/stagegate/stagegate/internal/platform/codec"
	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
)

// decodeJSON reads one JSON document from r into v, preserving numeric
// precision via json.Number.
func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(apperrors.CodeArgumentInvalid, "decode request body", err)
	}
	return nil
}

// encodeArgs transcodes a decoded JSON value into the core's argument
// encoding. A nil value becomes an empty payload.
func encodeArgs(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	normalized, err := normalizeJSON(v)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(normalized)
}

// normalizeJSON rewrites json.Number leaves into integer or float values so
// the transcoded payload decodes into the modules' typed argument structs.
func normalizeJSON(v any) (any, error) {
	switch value := v.(type) {
	case json.Number:
		return normalizeNumber(value)
	case map[string]any:
		out := make(map[string]any, len(value))
		for key, item := range value {
			normalized, err := normalizeJSON(item)
			if err != nil {
				return nil, err
			}
			out[key] = normalized
		}
		return out, nil
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			normalized, err := normalizeJSON(item)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	default:
		return v, nil
	}
}

func normalizeNumber(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if strings.HasPrefix(s, "-") {
			i, err := n.Int64()
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeArgumentInvalid, "decode number", err)
			}
			return i, nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeArgumentInvalid, "decode number", err)
	}
	return f, nil
}

// decodeResult transcodes a core result payload into a JSON-renderable
// value. Empty payloads render as null.
func decodeResult(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var out any
	if err := codec.Unmarshal(payload, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorage, "decode result payload", err)
	}
	return out, nil
}
