// Package nut01 has the structs for the mint public keys endpoint.
// See https://github.com/cashubtc/nuts/blob/main/01.md
package nut01

import (
	"bytes"
	"encoding/json"
	"slices"
	"strconv"
)

type GetKeysResponse struct {
	Keysets []Keyset `json:"keysets"`
}

type Keyset struct {
	Id   string  `json:"id"`
	Unit string  `json:"unit"`
	Keys KeysMap `json:"keys"`
}

type KeysMap map[uint64]string

// custom marshaller to display sorted keys
func (km KeysMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	amounts := make([]uint64, len(km))
	i := 0
	for k := range km {
		amounts[i] = k
		i++
	}
	slices.Sort(amounts)

	for j, amount := range amounts {
		if j != 0 {
			buf.WriteByte(',')
		}

		// marshal key
		key, err := json.Marshal(amount)
		if err != nil {
			return nil, err
		}
		buf.WriteByte('"')
		buf.Write(key)
		buf.WriteByte('"')
		buf.WriteByte(':')
		// marshal value
		pubkey := km[amount]
		val, err := json.Marshal(pubkey)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// custom unmarshaller so amounts wider than 64 bits are dropped
// instead of failing the whole keyset. Those denominations are simply
// unsupported.
func (km *KeysMap) UnmarshalJSON(data []byte) error {
	var rawKeys map[string]string
	if err := json.Unmarshal(data, &rawKeys); err != nil {
		return err
	}

	keys := make(KeysMap, len(rawKeys))
	for amountStr, pubkey := range rawKeys {
		amount, err := strconv.ParseUint(amountStr, 10, 64)
		if err != nil {
			continue
		}
		keys[amount] = pubkey
	}

	*km = keys
	return nil
}
