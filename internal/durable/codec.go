package durable

import (
	"encoding/json"
	"fmt"
)

// Codec is the explicit, versioned encode/decode pair supplied to the
// bridge at construction. Neither the orchestrator nor the capability
// interfaces ever see encoded bytes; the bridge uses the codec only for
// journal records, and refuses to replay a record written by a different
// codec version.
type Codec struct {
	Version string
	Encode  func(v any) ([]byte, error)
	Decode  func(data []byte, v any) error
}

// JSONCodec returns the v1 JSON codec.
func JSONCodec() Codec {
	return Codec{
		Version: "json/v1",
		Encode:  json.Marshal,
		Decode:  json.Unmarshal,
	}
}

func (c Codec) valid() error {
	if c.Version == "" || c.Encode == nil || c.Decode == nil {
		return fmt.Errorf("codec must carry a version and both encode and decode functions")
	}
	return nil
}
