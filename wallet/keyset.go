package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ecashkit/cashew/cashu"
	"github.com/ecashkit/cashew/crypto"
)

// loadMint fetches the mint's keysets, filters them to the wallet's
// unit and selects the active one. Keysets with non-hex ids (legacy
// base64) are kept for fee lookups but never selected as active.
func (w *Wallet) loadMint() error {
	keysetsResponse, err := w.client.GetAllKeysets()
	if err != nil {
		return fmt.Errorf("error getting keysets from mint: %v", err)
	}

	availableUnits := make(map[string]bool)
	w.inactiveKeysets = make(map[string]crypto.WalletKeyset)

	var activeKeyset *crypto.WalletKeyset
	for _, keysetRes := range keysetsResponse.Keysets {
		availableUnits[keysetRes.Unit] = true
		if keysetRes.Unit != w.unit.String() {
			continue
		}

		keyset := crypto.WalletKeyset{
			Id:          keysetRes.Id,
			MintURL:     w.mintURL,
			Unit:        keysetRes.Unit,
			Active:      keysetRes.Active,
			InputFeePpk: keysetRes.InputFeePpk,
		}

		_, hexErr := hex.DecodeString(keysetRes.Id)
		if keysetRes.Active && hexErr == nil && activeKeyset == nil {
			keys, err := w.fetchKeysetKeys(keysetRes.Id)
			if err != nil {
				return err
			}
			keyset.PublicKeys = keys
			activeKeyset = &keyset
		} else {
			w.inactiveKeysets[keyset.Id] = keyset
		}
	}

	if activeKeyset == nil {
		units := make([]string, 0, len(availableUnits))
		for unit := range availableUnits {
			units = append(units, unit)
		}
		return NoActiveKeysetErr{Unit: w.unit.String(), Available: units}
	}
	w.activeKeyset = activeKeyset

	if w.db != nil {
		if err := w.db.SaveKeyset(activeKeyset); err != nil {
			return fmt.Errorf("error saving keyset: %v", err)
		}
		for _, keyset := range w.inactiveKeysets {
			keyset := keyset
			if err := w.db.SaveKeyset(&keyset); err != nil {
				return fmt.Errorf("error saving keyset: %v", err)
			}
		}
	}

	return nil
}

// fetchKeysetKeys gets the keys for a keyset and verifies the keyset
// id the mint claims actually derives from them.
func (w *Wallet) fetchKeysetKeys(id string) (map[uint64]*secp256k1.PublicKey, error) {
	keysetKeys, err := w.client.GetKeysetById(id)
	if err != nil {
		return nil, fmt.Errorf("error getting keyset keys from mint: %v", err)
	}
	if len(keysetKeys.Keysets) == 0 {
		return nil, UnknownKeysetErr{Id: id}
	}

	keys, err := crypto.MapPubKeys(keysetKeys.Keysets[0].Keys)
	if err != nil {
		return nil, err
	}

	derivedId := crypto.DeriveKeysetId(keys)
	if derivedId != id {
		return nil, fmt.Errorf("got invalid keyset: derived id '%v' but mint claims '%v'", derivedId, id)
	}

	return keys, nil
}

// keyset returns the keyset with the given id, looking at the active
// keyset, known inactive keysets and finally the store.
func (w *Wallet) keyset(id string) (*crypto.WalletKeyset, error) {
	if w.activeKeyset != nil && w.activeKeyset.Id == id {
		return w.activeKeyset, nil
	}
	if keyset, ok := w.inactiveKeysets[id]; ok {
		return &keyset, nil
	}
	if w.db != nil {
		if keyset := w.db.GetKeyset(id); keyset != nil {
			return keyset, nil
		}
	}
	return nil, UnknownKeysetErr{Id: id}
}

// keysetKeys returns the public keys for the keyset, fetching them
// from the mint if they are not cached.
func (w *Wallet) keysetKeys(id string) (map[uint64]*secp256k1.PublicKey, error) {
	keyset, err := w.keyset(id)
	if err != nil {
		return nil, err
	}
	if len(keyset.PublicKeys) > 0 {
		return keyset.PublicKeys, nil
	}

	keys, err := w.fetchKeysetKeys(id)
	if err != nil {
		return nil, err
	}
	keyset.PublicKeys = keys
	if w.db != nil {
		w.db.SaveKeyset(keyset)
	}
	return keys, nil
}

// fees computes the input fee for spending proofs:
// ceil of the summed input_fee_ppk of each proof's keyset.
func (w *Wallet) fees(proofs cashu.Proofs) (uint64, error) {
	var sumPpk uint64
	for _, proof := range proofs {
		keyset, err := w.keyset(proof.Id)
		if err != nil {
			return 0, err
		}
		sumPpk += uint64(keyset.InputFeePpk)
	}
	return (sumPpk + 999) / 1000, nil
}
