package main

import (
	"reflect"
	"testing"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want []interface{}
	}{
		{name: "empty", raw: nil, want: []interface{}{}},
		{name: "plain strings", raw: []string{"hello", "world"}, want: []interface{}{"hello", "world"}},
		{name: "numbers", raw: []string{"1", "2.5"}, want: []interface{}{int64(1), 2.5}},
		{name: "quoted string", raw: []string{`"42"`}, want: []interface{}{"42"}},
		{name: "bool and null", raw: []string{"true", "null"}, want: []interface{}{true, nil}},
		{
			name: "object",
			raw:  []string{`{"user":"argle","age":3}`},
			want: []interface{}{map[string]interface{}{"user": "argle", "age": int64(3)}},
		},
		{name: "array", raw: []string{`[1,"a"]`}, want: []interface{}{[]interface{}{int64(1), "a"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseArgs(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseArgs(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestJSONSafe(t *testing.T) {
	//Assemble
	v := map[interface{}]interface{}{
		"name":  "argle",
		int8(1): []interface{}{map[interface{}]interface{}{"nested": true}},
	}

	//Act
	got := jsonSafe(v)

	//Assert
	want := map[string]interface{}{
		"name": "argle",
		"1":    []interface{}{map[string]interface{}{"nested": true}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("jsonSafe = %#v, want %#v", got, want)
	}
}

func TestOptionsConfig(t *testing.T) {
	//Assemble
	opts := &options{
		url:       "https://example.com/hub",
		headers:   []string{"Authorization=Bearer abc", "X-Tenant=argle"},
		insecure:  true,
		reconnect: 3,
	}

	//Act
	cfg, err := opts.config(nil)

	//Assert
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	if cfg.RequestHeaders.Get("Authorization") != "Bearer abc" || cfg.RequestHeaders.Get("X-Tenant") != "argle" {
		t.Errorf("unexpected headers: %v", cfg.RequestHeaders)
	}

	if !cfg.InsecureSkipVerify || cfg.ReconnectPolicy == nil {
		t.Errorf("flags not carried into the config: %+v", cfg)
	}

	opts.headers = []string{"broken"}
	if _, err := opts.config(nil); err == nil {
		t.Errorf("malformed header expected to be rejected")
	}
}
