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
	"encoding/json"
	"errors"
	"reflect"
	"strings"
)

var errNotStruct = errors.New("input must be a struct or pointer to struct")

// FilterSensitiveFields converts a configuration struct into a generic map, dropping every field
// tagged `sensitive:"true"`. The result is safe to log or serve over the API.
func FilterSensitiveFields(input interface{}) (map[string]interface{}, error) {
	if input == nil {
		return make(map[string]interface{}), nil
	}

	result := filterRecursively(reflect.ValueOf(input))
	if result == nil {
		return make(map[string]interface{}), nil
	}

	if resultMap, ok := result.(map[string]interface{}); ok {
		return resultMap, nil
	}

	return nil, errNotStruct
}

// RedactedJSON marshals cfg with its sensitive fields removed.
func RedactedJSON(cfg interface{}) ([]byte, error) {
	safe, err := FilterSensitiveFields(cfg)
	if err != nil {
		return nil, err
	}

	return json.Marshal(safe)
}

var marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

func filterRecursively(rv reflect.Value) interface{} {
	if !rv.IsValid() {
		return nil
	}

	if rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}

		return filterRecursively(rv.Elem())
	}

	// Durations and timestamps keep their own wire form.
	if rv.Type().Implements(marshalerType) {
		return rv.Interface()
	}

	switch rv.Kind() {
	case reflect.Struct:
		return filterStruct(rv)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}

		result := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			result[i] = filterRecursively(rv.Index(i))
		}

		return result
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}

		result := make(map[string]interface{}, rv.Len())

		iter := rv.MapRange()
		for iter.Next() {
			if iter.Key().Kind() != reflect.String {
				continue
			}

			result[iter.Key().String()] = filterRecursively(iter.Value())
		}

		return result
	default:
		if !rv.CanInterface() {
			return nil
		}

		return rv.Interface()
	}
}

func filterStruct(rv reflect.Value) map[string]interface{} {
	rt := rv.Type()
	result := make(map[string]interface{})

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() || field.Tag.Get("sensitive") == "true" {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name, opts, _ := strings.Cut(jsonTag, ",")

		value := filterRecursively(rv.Field(i))

		// Embedded structs without a name are flattened like encoding/json does.
		if field.Anonymous && name == "" {
			if nested, ok := value.(map[string]interface{}); ok {
				for k, v := range nested {
					result[k] = v
				}

				continue
			}
		}

		if name == "" {
			name = field.Name
		}

		if value == nil && strings.Contains(opts, "omitempty") {
			continue
		}

		result[name] = value
	}

	return result
}
