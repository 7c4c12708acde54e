// Package nut18 implements payment requests.
// See https://github.com/cashubtc/nuts/blob/main/18.md
package nut18

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const prefix = "creqA"

var ErrInvalidPaymentRequest = errors.New("invalid payment request")

type TransportType string

const (
	Nostr TransportType = "nostr"
	Post  TransportType = "post"
)

type Transport struct {
	Type   TransportType `json:"t"`
	Target string        `json:"a"`
	Tags   [][]string    `json:"g,omitempty"`
}

type PaymentRequest struct {
	Id         string      `json:"i,omitempty"`
	Amount     uint64      `json:"a,omitempty"`
	Unit       string      `json:"u,omitempty"`
	Mints      []string    `json:"m,omitempty"`
	Memo       string      `json:"d,omitempty"`
	Transports []Transport `json:"t,omitempty"`
	SingleUse  bool        `json:"s,omitempty"`
}

// Encode serializes the payment request as "creqA" + base64url(cbor),
// unpadded.
func (pr *PaymentRequest) Encode() (string, error) {
	cborData, err := cbor.Marshal(pr)
	if err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(cborData), nil
}

func Decode(request string) (*PaymentRequest, error) {
	if !strings.HasPrefix(request, prefix) {
		return nil, ErrInvalidPaymentRequest
	}

	encoded := request[len(prefix):]
	cborData, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		cborData, err = base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, ErrInvalidPaymentRequest
		}
	}

	var pr PaymentRequest
	if err := cbor.Unmarshal(cborData, &pr); err != nil {
		return nil, ErrInvalidPaymentRequest
	}

	return &pr, nil
}
