package pkgcodec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// maxSafeInteger is the largest integer every JSON consumer reads exactly.
const maxSafeInteger = 1<<53 - 1

// encodeUint writes v as a JSON number when a double can hold it exactly
// and as a decimal string otherwise, so large values survive the trip.
func encodeUint(v *big.Int) json.RawMessage {
	if v == nil {
		return json.RawMessage("0")
	}
	if v.IsUint64() && v.Uint64() <= maxSafeInteger {
		return json.RawMessage(v.String())
	}
	return json.RawMessage(strconv.Quote(v.String()))
}

func encodeUint64(v uint64) json.RawMessage {
	return encodeUint(new(big.Int).SetUint64(v))
}

// decodeUint reads a non-negative integer of at most bits bits from a JSON
// number or a decimal / 0x-hex string.
func decodeUint(raw json.RawMessage, bits int) (*big.Int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("missing integer")
	}

	var (
		v  *big.Int
		ok bool
	)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if rest, hex := strings.CutPrefix(strings.ToLower(s), "0x"); hex {
			v, ok = new(big.Int).SetString(rest, 16)
		} else {
			v, ok = new(big.Int).SetString(s, 10)
		}
	} else {
		v, ok = new(big.Int).SetString(string(raw), 10)
		if !ok {
			// Producers that format through doubles may emit 1e+21.
			f, _, err := big.ParseFloat(string(raw), 10, 256, big.ToNearestEven)
			if err == nil && f.IsInt() {
				v, _ = f.Int(nil)
				ok = true
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("invalid integer %s", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative integer %s", raw)
	}
	if v.BitLen() > bits {
		return nil, fmt.Errorf("integer %s exceeds %d bits", raw, bits)
	}
	return v, nil
}

func decodeUint64(raw json.RawMessage) (uint64, error) {
	v, err := decodeUint(raw, 64)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}
