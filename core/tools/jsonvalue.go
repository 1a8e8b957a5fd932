package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
)

// MaxValueDepth bounds how deeply nested a parsed value may be.
const MaxValueDepth = 32

var ErrValueTooDeep = errors.New("json value nested too deeply")

type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueNumber
	ValueString
	ValueArray
	ValueObject
)

// Value is a parsed JSON value that keeps object fields in document order.
type Value struct {
	Kind   ValueKind
	Str    string
	Bool   bool
	Items  []Value
	Fields []Field
}

type Field struct {
	Key   string
	Value Value
}

func (v Value) Field(key string) (Value, bool) {
	for _, field := range v.Fields {
		if field.Key == key {
			return field.Value, true
		}
	}
	return Value{}, false
}

// ParseValue parses a JSON document into a Value.
func ParseValue(data []byte) (Value, error) {
	raw, dataType, _, err := jsonparser.Get(data)
	if err != nil {
		return Value{}, fmt.Errorf("failed to parse json value: %w", err)
	}
	return parseValue(raw, dataType, 0)
}

func parseValue(raw []byte, dataType jsonparser.ValueType, depth int) (Value, error) {
	if depth > MaxValueDepth {
		return Value{}, ErrValueTooDeep
	}

	switch dataType {
	case jsonparser.Null:
		return Value{Kind: ValueNull}, nil

	case jsonparser.Boolean:
		parsed, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueBool, Bool: parsed}, nil

	case jsonparser.Number:
		return Value{Kind: ValueNumber, Str: string(raw)}, nil

	case jsonparser.String:
		parsed, err := jsonparser.ParseString(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueString, Str: parsed}, nil

	case jsonparser.Array:
		value := Value{Kind: ValueArray}
		var itemErr error
		_, err := jsonparser.ArrayEach(raw, func(item []byte, itemType jsonparser.ValueType, _ int, err error) {
			if itemErr != nil {
				return
			}
			if err != nil {
				itemErr = err
				return
			}
			parsed, err := parseValue(item, itemType, depth+1)
			if err != nil {
				itemErr = err
				return
			}
			value.Items = append(value.Items, parsed)
		})
		if itemErr != nil {
			return Value{}, itemErr
		}
		if err != nil {
			return Value{}, err
		}
		return value, nil

	case jsonparser.Object:
		value := Value{Kind: ValueObject}
		err := jsonparser.ObjectEach(raw, func(key []byte, item []byte, itemType jsonparser.ValueType, _ int) error {
			parsedKey, err := jsonparser.ParseString(key)
			if err != nil {
				return err
			}
			parsed, err := parseValue(item, itemType, depth+1)
			if err != nil {
				return err
			}
			value.Fields = append(value.Fields, Field{Key: parsedKey, Value: parsed})
			return nil
		})
		if err != nil {
			return Value{}, err
		}
		return value, nil
	}

	return Value{}, fmt.Errorf("unsupported json value type %v", dataType)
}

// ExtractText walks the value depth first and collects the non-empty "text"
// field of every object it meets. Objects that contribute a line are not
// descended into further.
func ExtractText(v Value) []string {
	var lines []string
	extractText(v, 0, &lines)
	return lines
}

func extractText(v Value, depth int, lines *[]string) {
	if depth > MaxValueDepth {
		return
	}

	switch v.Kind {
	case ValueObject:
		if text, ok := v.Field("text"); ok && text.Kind == ValueString {
			if trimmed := strings.TrimSpace(text.Str); trimmed != "" {
				*lines = append(*lines, trimmed)
				return
			}
		}
		for _, field := range v.Fields {
			extractText(field.Value, depth+1, lines)
		}
	case ValueArray:
		for _, item := range v.Items {
			extractText(item, depth+1, lines)
		}
	}
}
