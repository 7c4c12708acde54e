// Package nut09 has the structs for the signature restore endpoint.
// See https://github.com/cashubtc/nuts/blob/main/09.md
package nut09

import "github.com/ecashkit/cashew/cashu"

type PostRestoreRequest struct {
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostRestoreResponse struct {
	Outputs    cashu.BlindedMessages   `json:"outputs"`
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
