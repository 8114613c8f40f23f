package codec

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer converts values to and from byte payloads.
type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() string
}

// JSON serializes values with encoding/json. Numbers decode as float64 and
// structs decode as map[string]interface{}, matching what callers get back
// from any tier that stores serialized payloads.
type JSON struct{}

func (JSON) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (JSON) Name() string { return "json" }

// Msgpack serializes values with MessagePack. Denser than JSON and
// preserves integer types, at the cost of payloads not being readable
// with redis-cli.
type Msgpack struct{}

func (Msgpack) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Msgpack) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

func (Msgpack) Name() string { return "msgpack" }

// NewSerializer returns the serializer registered under the given name.
// An empty name selects JSON.
func NewSerializer(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown serializer %q", name)
	}
}
