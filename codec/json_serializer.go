package codec

import "encoding/json"

// jsonSerializer uses the standard library for a human-readable,
// cross-language-friendly wire format. Adapted from the teacher's
// codec/json_codec.go.
type jsonSerializer struct{}

func (s *jsonSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (s *jsonSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (s *jsonSerializer) Name() Name {
	return JSON
}
