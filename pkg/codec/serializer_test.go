package codec

import (
	"reflect"
	"testing"
)

func TestNewSerializer(t *testing.T) {
	tests := []struct {
		name     string
		wantName string
		wantErr  bool
	}{
		{"", "json", false},
		{"json", "json", false},
		{"msgpack", "msgpack", false},
		{"protobuf", "", true},
	}

	for _, tt := range tests {
		s, err := NewSerializer(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewSerializer(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if err == nil && s.Name() != tt.wantName {
			t.Errorf("NewSerializer(%q).Name() = %q, want %q", tt.name, s.Name(), tt.wantName)
		}
	}
}

func TestJSON_Roundtrip(t *testing.T) {
	s := JSON{}

	in := map[string]interface{}{
		"name":  "user-42",
		"score": 99.5,
		"tags":  []interface{}{"a", "b"},
	}

	data, err := s.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out interface{}
	if err := s.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(out, in) {
		t.Errorf("roundtrip = %#v, want %#v", out, in)
	}
}

func TestJSON_NumbersDecodeAsFloat64(t *testing.T) {
	s := JSON{}

	data, err := s.Marshal(42)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out interface{}
	if err := s.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	f, ok := out.(float64)
	if !ok {
		t.Fatalf("decoded type = %T, want float64", out)
	}
	if f != 42 {
		t.Errorf("decoded value = %v, want 42", f)
	}
}

func TestMsgpack_Roundtrip(t *testing.T) {
	s := Msgpack{}

	in := map[string]interface{}{
		"name": "user-42",
		"tags": []interface{}{"a", "b"},
	}

	data, err := s.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out interface{}
	if err := s.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	m, ok := out.(map[string]interface{})
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]interface{}", out)
	}
	if m["name"] != "user-42" {
		t.Errorf("decoded name = %v, want user-42", m["name"])
	}
}

func TestMsgpack_SmallerThanJSON(t *testing.T) {
	in := map[string]interface{}{
		"id":     "abcdefgh",
		"region": "eu-west-1",
		"active": true,
	}

	jsonData, err := JSON{}.Marshal(in)
	if err != nil {
		t.Fatalf("json marshal failed: %v", err)
	}
	packData, err := Msgpack{}.Marshal(in)
	if err != nil {
		t.Fatalf("msgpack marshal failed: %v", err)
	}

	if len(packData) >= len(jsonData) {
		t.Errorf("msgpack payload %d bytes, json %d bytes; expected msgpack smaller", len(packData), len(jsonData))
	}
}
