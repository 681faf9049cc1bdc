package store

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// toAttribute converts a fixture field value into a native attribute.
// Numbers keep their literal text.
func toAttribute(v jsontext.Value) (types.AttributeValue, error) {
	v, err := compact(v)
	if err != nil {
		return nil, err
	}
	switch v.Kind() {
	case 'n':
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case 't':
		return &types.AttributeValueMemberBOOL{Value: true}, nil
	case 'f':
		return &types.AttributeValueMemberBOOL{Value: false}, nil
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberS{Value: s}, nil
	case '0':
		return &types.AttributeValueMemberN{Value: string(v)}, nil
	case '[':
		var elems []jsontext.Value
		if err := json.Unmarshal(v, &elems); err != nil {
			return nil, err
		}
		list := make([]types.AttributeValue, len(elems))
		for i, e := range elems {
			if list[i], err = toAttribute(e); err != nil {
				return nil, err
			}
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	case '{':
		var members map[string]jsontext.Value
		if err := json.Unmarshal(v, &members); err != nil {
			return nil, err
		}
		m := make(map[string]types.AttributeValue, len(members))
		for k, e := range members {
			if m[k], err = toAttribute(e); err != nil {
				return nil, err
			}
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	default:
		return nil, fmt.Errorf("unsupported JSON value %q", v)
	}
}

// fromAttribute converts a stored attribute back into a fixture field value.
func fromAttribute(av types.AttributeValue) (jsontext.Value, error) {
	switch x := av.(type) {
	case *types.AttributeValueMemberNULL:
		return jsontext.Value("null"), nil
	case *types.AttributeValueMemberBOOL:
		return json.Marshal(x.Value)
	case *types.AttributeValueMemberS:
		return json.Marshal(x.Value)
	case *types.AttributeValueMemberN:
		return jsontext.Value(x.Value), nil
	case *types.AttributeValueMemberB:
		return json.Marshal(x.Value)
	case *types.AttributeValueMemberSS:
		return json.Marshal(x.Value)
	case *types.AttributeValueMemberNS:
		elems := make([]jsontext.Value, len(x.Value))
		for i, n := range x.Value {
			elems[i] = jsontext.Value(n)
		}
		return json.Marshal(elems)
	case *types.AttributeValueMemberL:
		elems := make([]jsontext.Value, len(x.Value))
		for i, e := range x.Value {
			v, err := fromAttribute(e)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		return json.Marshal(elems)
	case *types.AttributeValueMemberM:
		members := make(map[string]jsontext.Value, len(x.Value))
		for k, e := range x.Value {
			v, err := fromAttribute(e)
			if err != nil {
				return nil, err
			}
			members[k] = v
		}
		return json.Marshal(members, json.Deterministic(true))
	default:
		return nil, fmt.Errorf("unsupported attribute type %T", av)
	}
}

func compact(v jsontext.Value) (jsontext.Value, error) {
	v = v.Clone()
	if err := v.Compact(); err != nil {
		return nil, err
	}
	return v, nil
}

// idFromPK returns the item identifier for a primary key value.
func idFromPK(pk jsontext.Value) (string, error) {
	pk, err := compact(pk)
	if err != nil {
		return "", err
	}
	switch pk.Kind() {
	case '"':
		var s string
		err := json.Unmarshal(pk, &s)
		return s, err
	case '0':
		return string(pk), nil
	default:
		return "", fmt.Errorf("unsupported primary key %s", pk)
	}
}

// naturalKeyOf returns the compact natural key of a record's fields.
func naturalKeyOf(fields map[string]jsontext.Value, parts []string) (string, error) {
	values := make([]jsontext.Value, len(parts))
	for i, f := range parts {
		v, ok := fields[f]
		if !ok {
			return "", fmt.Errorf("natural key field %s missing", f)
		}
		c, err := compact(v)
		if err != nil {
			return "", fmt.Errorf("%s: %w", f, err)
		}
		values[i] = c
	}
	key, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(key), nil
}
