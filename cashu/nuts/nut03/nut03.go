// Package nut03 has the structs for the swap endpoint.
// See https://github.com/cashubtc/nuts/blob/main/03.md
package nut03

import "github.com/ecashkit/cashew/cashu"

type PostSwapRequest struct {
	Inputs  cashu.Proofs          `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostSwapResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
