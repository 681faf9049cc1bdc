package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// toJSON converts a scanned column value. Text in a JSON column is parsed
// as a JSON document.
func toJSON(v any, jsonField bool) (jsontext.Value, error) {
	switch x := v.(type) {
	case nil:
		return jsontext.Value("null"), nil
	case []byte:
		if jsonField {
			return parseDocument(string(x))
		}
		if utf8.Valid(x) {
			return json.Marshal(string(x))
		}
		return json.Marshal(x)
	case string:
		if jsonField {
			return parseDocument(x)
		}
		return json.Marshal(x)
	case time.Time:
		return json.Marshal(x.Format(time.RFC3339Nano))
	default:
		return json.Marshal(x)
	}
}

func parseDocument(s string) (jsontext.Value, error) {
	v := jsontext.Value(strings.TrimSpace(s))
	if err := v.Compact(); err != nil {
		return nil, fmt.Errorf("json column: %w", err)
	}
	return v, nil
}

// fromJSON converts a field value into a value bound as a query argument.
// Integers keep their exact value; objects and arrays are stored as text.
func fromJSON(v jsontext.Value) (any, error) {
	v = v.Clone()
	if err := v.Compact(); err != nil {
		return nil, err
	}
	switch v.Kind() {
	case 'n':
		return nil, nil
	case 't':
		return true, nil
	case 'f':
		return false, nil
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, err
		}
		return s, nil
	case '0':
		if i, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			return i, nil
		}
		return strconv.ParseFloat(string(v), 64)
	default:
		return string(v), nil
	}
}

// jsonText returns the compact text of a value for a JSON column.
func jsonText(v jsontext.Value) (any, error) {
	v = v.Clone()
	if err := v.Compact(); err != nil {
		return nil, err
	}
	if v.Kind() == 'n' {
		return nil, nil
	}
	return string(v), nil
}

// idKey is a map key for an identifier value of any scanned type.
func idKey(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
