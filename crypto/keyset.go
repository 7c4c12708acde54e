package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// mint url to map of keyset id to keyset
type KeysetsMap map[string]map[string]WalletKeyset

// WalletKeyset is a mint keyset as seen by the wallet: identity, unit,
// fee rate and the public key for each amount.
type WalletKeyset struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  map[uint64]*secp256k1.PublicKey
	InputFeePpk uint
}

// DeriveKeysetId computes the keyset id from the public keys:
// "00" + first 14 hex chars of sha256 over the compressed keys
// concatenated in ascending amount order.
func DeriveKeysetId(keys map[uint64]*secp256k1.PublicKey) string {
	amounts := make([]uint64, len(keys))
	i := 0
	for amount := range keys {
		amounts[i] = amount
		i++
	}
	slices.Sort(amounts)

	pubkeys := make([]byte, 0, len(amounts)*33)
	for _, amount := range amounts {
		pubkeys = append(pubkeys, keys[amount].SerializeCompressed()...)
	}
	hash := sha256.Sum256(pubkeys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

// MapPubKeys parses a map of amount to compressed key hex into public keys.
func MapPubKeys(keys map[uint64]string) (map[uint64]*secp256k1.PublicKey, error) {
	publicKeys := make(map[uint64]*secp256k1.PublicKey, len(keys))
	for amount, key := range keys {
		pkbytes, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("invalid key for amount %v: %v", amount, err)
		}
		pubkey, err := secp256k1.ParsePubKey(pkbytes)
		if err != nil {
			return nil, fmt.Errorf("invalid key for amount %v: %v", amount, err)
		}
		publicKeys[amount] = pubkey
	}
	return publicKeys, nil
}

type walletKeysetJSON struct {
	Id          string            `json:"id"`
	MintURL     string            `json:"mint_url"`
	Unit        string            `json:"unit"`
	Active      bool              `json:"active"`
	PublicKeys  map[uint64]string `json:"public_keys,omitempty"`
	InputFeePpk uint              `json:"input_fee_ppk"`
}

func (ks *WalletKeyset) MarshalJSON() ([]byte, error) {
	keys := make(map[uint64]string, len(ks.PublicKeys))
	for amount, pk := range ks.PublicKeys {
		keys[amount] = hex.EncodeToString(pk.SerializeCompressed())
	}
	return json.Marshal(walletKeysetJSON{
		Id:          ks.Id,
		MintURL:     ks.MintURL,
		Unit:        ks.Unit,
		Active:      ks.Active,
		PublicKeys:  keys,
		InputFeePpk: ks.InputFeePpk,
	})
}

func (ks *WalletKeyset) UnmarshalJSON(data []byte) error {
	var keyset walletKeysetJSON
	if err := json.Unmarshal(data, &keyset); err != nil {
		return err
	}

	keys, err := MapPubKeys(keyset.PublicKeys)
	if err != nil {
		return err
	}

	ks.Id = keyset.Id
	ks.MintURL = keyset.MintURL
	ks.Unit = keyset.Unit
	ks.Active = keyset.Active
	ks.PublicKeys = keys
	ks.InputFeePpk = keyset.InputFeePpk

	return nil
}
