package domain

import "encoding/json"

// MustMarshalSession encodes a session; sessions only hold JSON-safe values.
func MustMarshalSession(s *Session) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		panic("session marshal: " + err.Error())
	}
	return b
}

// UnmarshalSession decodes a stored session.
func UnmarshalSession(b []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
