package offchain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// UnmarshalJSON accepts integer fields as JSON numbers or as decimal / 0x
// strings, and a missing version as the legacy version 0.
func (m *Message) UnmarshalJSON(b []byte) error {
	type plain Message
	var aux struct {
		*plain
		Version        flexUint `json:"version"`
		Time           flexUint `json:"time"`
		ExpirationTime flexUint `json:"expirationTime"`
		Nonce          flexUint `json:"nonce"`
	}
	aux.plain = (*plain)(m)
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.Version > math.MaxUint16 {
		return fmt.Errorf("message version %d out of range", aux.Version)
	}
	m.Version = uint16(aux.Version)
	m.Time = uint64(aux.Time)
	m.ExpirationTime = uint64(aux.ExpirationTime)
	m.Nonce = uint64(aux.Nonce)
	return nil
}

type flexUint uint64

func (f *flexUint) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	var (
		v   uint64
		err error
	)
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		v, err = strconv.ParseUint(rest, 16, 64)
	} else {
		v, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return fmt.Errorf("invalid unsigned integer %s", b)
	}
	*f = flexUint(v)
	return nil
}
