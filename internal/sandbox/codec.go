package sandbox

import (
	"encoding/json"
	"fmt"
)

// Encode calls the driver's functionName with paramsJSON and interprets
// the result as a JSON array of byte values (0-255), the frameBytes
// contract in spec.md §4.4.
func (s *Sandbox) Encode(functionName string, paramsJSON string) ([]byte, error) {
	resultJSON, err := s.Call(functionName, paramsJSON)
	if err != nil {
		return nil, err
	}
	var values []int
	if err := json.Unmarshal([]byte(resultJSON), &values); err != nil {
		return nil, fmt.Errorf("sandbox: encode result is not a byte array: %w", err)
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 0xFF {
			return nil, fmt.Errorf("sandbox: encode result byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// Decode calls the driver's functionName with frame rendered as a JSON
// array of byte values, returning the driver's resultJson verbatim.
func (s *Sandbox) Decode(functionName string, frame []byte) (string, error) {
	values := make([]int, len(frame))
	for i, b := range frame {
		values[i] = int(b)
	}
	paramsJSON, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("sandbox: marshal frame bytes: %w", err)
	}
	return s.Call(functionName, string(paramsJSON))
}
