package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
)

// Non-finite floats on the JSON wire. encoding/json rejects NaN and ±Inf,
// so they travel as these strings. Bare tokens, as Python's json module
// writes them, are accepted on input.
const (
	TokenNaN    = "NaN"
	TokenInf    = "Infinity"
	TokenNegInf = "-Infinity"
)

// JSONFloat returns f, or its token when f is not finite.
func JSONFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return TokenNaN
	case math.IsInf(f, 1):
		return TokenInf
	case math.IsInf(f, -1):
		return TokenNegInf
	default:
		return f
	}
}

func nonFinite(s string) (float64, bool) {
	switch s {
	case TokenNaN:
		return math.NaN(), true
	case TokenInf:
		return math.Inf(1), true
	case TokenNegInf:
		return math.Inf(-1), true
	}
	return 0, false
}

// IsNonFiniteToken reports whether s is one of the non-finite tokens.
func IsNonFiniteToken(s string) bool {
	_, ok := nonFinite(s)
	return ok
}

// QuoteNonFinite rewrites bare NaN, Infinity and -Infinity tokens outside
// string literals as quoted tokens. Input without them is returned as is.
func QuoteNonFinite(b []byte) []byte {
	if !bytes.Contains(b, []byte(TokenNaN)) && !bytes.Contains(b, []byte(TokenInf)) {
		return b
	}
	out := make([]byte, 0, len(b)+16)
	inStr, esc := false, false
	for i := 0; i < len(b); i++ {
		c := b[i]
		if inStr {
			out = append(out, c)
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		if c == '"' {
			inStr = true
			out = append(out, c)
			continue
		}
		if tok := bareToken(b[i:]); tok != "" {
			out = append(out, '"')
			out = append(out, tok...)
			out = append(out, '"')
			i += len(tok) - 1
			continue
		}
		out = append(out, c)
	}
	return out
}

func bareToken(b []byte) string {
	for _, tok := range []string{TokenNegInf, TokenInf, TokenNaN} {
		if bytes.HasPrefix(b, []byte(tok)) {
			return tok
		}
	}
	return ""
}

// DecodeJSON unmarshals b keeping numbers as json.Number and accepting bare
// non-finite tokens.
func DecodeJSON(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(QuoteNonFinite(b)))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("invalid character after top-level value")
	}
	return nil
}

// Plain rewrites json.Number values inside a decoded tree as int64 when they
// are integral and fit, uint64 when they only fit unsigned, and float64
// otherwise. Trees without json.Number are returned unchanged.
func Plain(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(string(t), 10, 64); err == nil {
			return u
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return string(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Plain(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Plain(e)
		}
		return out
	default:
		return v
	}
}
