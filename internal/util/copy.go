// Package util holds small helpers shared across internal packages.
package util

import "reflect"

// seen tracks pointer-like values already copied within a single DeepCopy
// call so cyclic context maps cannot recurse forever.
type seen map[uintptr]interface{}

// DeepCopy returns a deep copy of a JSON-shaped value (maps, slices and
// primitives). Safety event contexts are copied through this at construction
// so a caller mutating its map afterwards cannot alter the audit record.
// Values of other kinds are returned as-is; contexts are expected to be
// plain data.
func DeepCopy(src interface{}) interface{} {
	if src == nil {
		return nil
	}
	return deepCopyValue(src, make(seen))
}

func deepCopyValue(src interface{}, visited seen) interface{} {
	switch v := src.(type) {
	case nil:
		return nil

	case map[string]interface{}:
		addr := reflect.ValueOf(v).Pointer()
		if cpy, ok := visited[addr]; ok {
			return cpy
		}
		cpy := make(map[string]interface{}, len(v))
		// Register before recursing so self-referencing maps terminate.
		visited[addr] = cpy
		for key, value := range v {
			cpy[key] = deepCopyValue(value, visited)
		}
		return cpy

	case []interface{}:
		addr := reflect.ValueOf(v).Pointer()
		if cpy, ok := visited[addr]; ok {
			return cpy
		}
		cpy := make([]interface{}, len(v))
		visited[addr] = cpy
		for i, value := range v {
			cpy[i] = deepCopyValue(value, visited)
		}
		return cpy

	case []string:
		cpy := make([]string, len(v))
		copy(cpy, v)
		return cpy

	case map[string]string:
		cpy := make(map[string]string, len(v))
		for key, value := range v {
			cpy[key] = value
		}
		return cpy

	default:
		// Strings, numbers, bools and anything else copied by value.
		return v
	}
}
