// Package nut06 has the structs for the mint info endpoint.
// See https://github.com/cashubtc/nuts/blob/main/06.md
package nut06

import "encoding/json"

type MintInfo struct {
	Name            string         `json:"name"`
	Pubkey          string         `json:"pubkey"`
	Version         string         `json:"version"`
	Description     string         `json:"description"`
	LongDescription string         `json:"description_long,omitempty"`
	Contact         []ContactInfo  `json:"contact,omitempty"`
	Motd            string         `json:"motd,omitempty"`
	Nuts            map[string]Nut `json:"nuts"`
}

type ContactInfo struct {
	Method string `json:"method"`
	Info   string `json:"info"`
}

type Nut struct {
	Supported bool            `json:"supported,omitempty"`
	Methods   json.RawMessage `json:"methods,omitempty"`
	Disabled  *bool           `json:"disabled,omitempty"`
}

// Supports reports whether the mint advertises support for the nut
// with the given number.
func (info *MintInfo) Supports(nut string) bool {
	n, ok := info.Nuts[nut]
	return ok && n.Supported
}
