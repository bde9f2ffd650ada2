package main

import (
	"encoding/json"
	"fmt"
)

// parseArgs decodes every argument as JSON, keeping the raw string when it is
// not valid JSON, so that `hubctl invoke Add 1 2` sends two numbers and
// `hubctl send Say hello` a string.
func parseArgs(raw []string) []interface{} {
	args := make([]interface{}, 0, len(raw))
	for _, r := range raw {
		var v interface{}
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			args = append(args, r)
			continue
		}
		args = append(args, normalizeNumber(v))
	}
	return args
}

// normalizeNumber sends whole JSON numbers as integers.
func normalizeNumber(v interface{}) interface{} {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
		return n
	case []interface{}:
		for i := range n {
			n[i] = normalizeNumber(n[i])
		}
		return n
	case map[string]interface{}:
		for k := range n {
			n[k] = normalizeNumber(n[k])
		}
		return n
	default:
		return v
	}
}

// jsonSafe rewrites the map[interface{}]interface{} values msgpack can
// produce into maps encoding/json accepts.
func jsonSafe(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = jsonSafe(val)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = jsonSafe(val)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, val := range t {
			s[i] = jsonSafe(val)
		}
		return s
	default:
		return v
	}
}
