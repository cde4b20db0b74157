// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MaxInlineValueSize is the size of the largest serialised value stored in
// the owning row. Larger values go to a byte array.
const MaxInlineValueSize = 4000

const (
	ValueTypeNull    = "null"
	ValueTypeBoolean = "boolean"
	ValueTypeNumber  = "number"
	ValueTypeString  = "string"
	ValueTypeJSON    = "json"
)

// EncodedValue is the persisted form of a variable value. Exactly one of Text
// and Large carries the JSON document.
type EncodedValue struct {
	Type  string
	Text  string
	Large []byte
}

func (v EncodedValue) IsLarge() bool {
	return v.Large != nil
}

func EncodeValue(value any) (EncodedValue, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return EncodedValue{}, fmt.Errorf("failed to serialize variable value of type %T: %w", value, err)
	}
	res := EncodedValue{Type: valueType(data)}
	if len(data) > MaxInlineValueSize {
		res.Large = data
		return res, nil
	}
	res.Text = string(data)
	return res, nil
}

func valueType(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ValueTypeNull
	}
	switch data[0] {
	case 'n':
		return ValueTypeNull
	case 't', 'f':
		return ValueTypeBoolean
	case '"':
		return ValueTypeString
	case '{', '[':
		return ValueTypeJSON
	}
	return ValueTypeNumber
}

// DecodeValue reads a value written by EncodeValue. Numbers decode as float64
// and JSON documents as maps and slices.
func DecodeValue(v EncodedValue) (any, error) {
	data := v.Large
	if data == nil {
		data = []byte(v.Text)
	}
	if v.Type == ValueTypeNull || len(data) == 0 {
		return nil, nil
	}
	var res any
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to deserialize %s variable value: %w", v.Type, err)
	}
	return res, nil
}
