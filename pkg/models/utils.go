/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"encoding"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
)

var errNotStruct = errors.New("input must be a struct or pointer to struct")

// FilterSensitiveFields converts a struct into a JSON-shaped map with every
// field tagged `sensitive:"true"` left out, so secrets never reach logs,
// consoles or API responses. Values that marshal themselves are kept whole.
func FilterSensitiveFields(input interface{}) (map[string]interface{}, error) {
	if input == nil {
		return map[string]interface{}{}, nil
	}

	switch out := filterValue(reflect.ValueOf(input)).(type) {
	case map[string]interface{}:
		return out, nil
	case nil:
		return map[string]interface{}{}, nil
	default:
		return nil, errNotStruct
	}
}

//nolint:gochecknoglobals // reflect type lookups
var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

func filterValue(rv reflect.Value) interface{} {
	if !rv.IsValid() {
		return nil
	}

	if rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}

		return filterValue(rv.Elem())
	}

	if rv.Type().Implements(jsonMarshalerType) || rv.Type().Implements(textMarshalerType) {
		return rv.Interface()
	}

	switch rv.Kind() {
	case reflect.Struct:
		return filterStruct(rv)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}

		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = filterValue(rv.Index(i))
		}

		return out
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}

		out := make(map[string]interface{}, rv.Len())

		iter := rv.MapRange()
		for iter.Next() {
			if key, ok := iter.Key().Interface().(string); ok {
				out[key] = filterValue(iter.Value())
			}
		}

		return out
	default:
		return rv.Interface()
	}
}

func filterStruct(rv reflect.Value) map[string]interface{} {
	rt := rv.Type()
	out := make(map[string]interface{}, rt.NumField())

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() || field.Tag.Get("sensitive") == "true" {
			continue
		}

		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		value := rv.Field(i)

		if field.Anonymous && name == "" {
			if inner, ok := filterValue(value).(map[string]interface{}); ok {
				for k, v := range inner {
					out[k] = v
				}
			}

			continue
		}

		if name == "" {
			name = field.Name
		}

		if strings.Contains(opts, "omitempty") && value.IsZero() {
			continue
		}

		out[name] = filterValue(value)
	}

	return out
}
