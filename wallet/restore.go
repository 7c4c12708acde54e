package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ecashkit/cashew/cashu"
	"github.com/ecashkit/cashew/cashu/nuts/nut07"
	"github.com/ecashkit/cashew/cashu/nuts/nut09"
	"github.com/ecashkit/cashew/cashu/nuts/nut13"
	"github.com/ecashkit/cashew/crypto"
	"github.com/ecashkit/cashew/wallet/storage"
)

const (
	restoreBatchSize    = 25
	restoreEmptyBatches = 3
)

// RestoreOptions controls Restore. AllUnits defaults to true and
// should stay true: melt fee-reserve change can come back in a
// different unit than the operation that produced it, and skipping a
// unit means its counter stays at zero, to be reused by a later mint.
type RestoreOptions struct {
	AllUnits bool
}

// DefaultRestoreOptions restores every unit the mint offers.
func DefaultRestoreOptions() RestoreOptions {
	return RestoreOptions{AllUnits: true}
}

// Restore recovers proofs and counters from the seed alone by asking
// the mint to replay blind signatures for deterministically derived
// outputs. Recovered proofs are written to the store partition of
// their unit and each keyset counter is set past the last recovered
// signature.
func (w *Wallet) Restore(opts RestoreOptions) (cashu.Proofs, error) {
	if w.masterKey == nil {
		return nil, ErrNoSeed
	}
	if w.db == nil {
		return nil, ErrStorageRequired
	}

	mintInfo, err := w.client.GetMintInfo()
	if err == nil && (!mintInfo.Supports("7") || !mintInfo.Supports("9")) {
		return nil, fmt.Errorf("mint does not support the operations needed to restore")
	}

	keysetsResponse, err := w.client.GetAllKeysets()
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %v", err)
	}

	proofsRestored := cashu.Proofs{}
	for _, keyset := range keysetsResponse.Keysets {
		if !opts.AllUnits && keyset.Unit != w.unit.String() {
			continue
		}
		// ignore keysets with non-hex ids
		if _, err := hex.DecodeString(keyset.Id); err != nil {
			continue
		}
		unit, err := cashu.UnitFromString(keyset.Unit)
		if err != nil {
			continue
		}

		db := w.db
		if db.WalletId() != storage.WalletId(w.mintURL, unit) {
			db = db.ForWallet(storage.WalletId(w.mintURL, unit))
		}

		proofs, err := w.restoreKeyset(db, keyset.Id)
		if err != nil {
			return nil, err
		}
		proofsRestored = append(proofsRestored, proofs...)
	}

	return proofsRestored, nil
}

func (w *Wallet) restoreKeyset(db storage.WalletDB, keysetId string) (cashu.Proofs, error) {
	keysetPath, err := nut13.DeriveKeysetPath(w.masterKey, keysetId)
	if err != nil {
		return nil, err
	}

	keys, err := w.fetchKeysetKeys(keysetId)
	if err != nil {
		return nil, err
	}

	restored := cashu.Proofs{}
	var counter, lastFound uint32
	found := false

	// stop when it reaches 3 consecutive empty batches
	emptyBatches := 0
	for emptyBatches < restoreEmptyBatches {
		batch, err := w.restoreBatchOutputs(keysetPath, keysetId, counter)
		if err != nil {
			return nil, err
		}

		restoreResponse, err := w.client.PostRestore(nut09.PostRestoreRequest{Outputs: batch.outputs})
		if err != nil {
			return nil, fmt.Errorf("error restoring signatures from mint: %v", err)
		}

		if len(restoreResponse.Signatures) == 0 {
			emptyBatches++
			counter += restoreBatchSize
			continue
		}
		emptyBatches = 0

		// pair returned signatures with our blinding data by B_
		indexByB_ := make(map[string]int, len(batch.outputs))
		for i, output := range batch.outputs {
			indexByB_[output.B_] = i
		}

		proofs := cashu.Proofs{}
		for i, signature := range restoreResponse.Signatures {
			if i >= len(restoreResponse.Outputs) {
				break
			}
			idx, ok := indexByB_[restoreResponse.Outputs[i].B_]
			if !ok {
				continue
			}

			pubkey, ok := keys[signature.Amount]
			if !ok {
				return nil, UnknownAmountErr{KeysetId: keysetId, Amount: signature.Amount}
			}

			C_bytes, err := hex.DecodeString(signature.C_)
			if err != nil {
				return nil, fmt.Errorf("invalid C_: %v", err)
			}
			C_, err := secp256k1.ParsePubKey(C_bytes)
			if err != nil {
				return nil, fmt.Errorf("invalid C_: %v", err)
			}
			C := crypto.UnblindSignature(C_, batch.rs[idx], pubkey)

			proofs = append(proofs, cashu.Proof{
				Amount: signature.Amount,
				Id:     keysetId,
				Secret: batch.secrets[idx],
				C:      hex.EncodeToString(C.SerializeCompressed()),
			})

			if absolute := counter + uint32(idx); !found || absolute > lastFound {
				lastFound = absolute
				found = true
			}
		}

		// only unspent proofs are worth keeping
		unspent, err := w.filterUnspent(proofs)
		if err != nil {
			return nil, err
		}
		restored = append(restored, unspent...)

		counter += restoreBatchSize
	}

	if found {
		if err := db.SetKeysetCounter(keysetId, uint64(lastFound)+1); err != nil {
			return nil, fmt.Errorf("error setting keyset counter: %v", err)
		}
	}

	if len(restored) > 0 {
		rows := make(storage.DBProofs, len(restored))
		for i, proof := range restored {
			Y, _ := proof.Y()
			rows[i] = storage.DBProof{
				Y:        Y,
				Amount:   proof.Amount,
				KeysetId: proof.Id,
				Secret:   proof.Secret,
				C:        proof.C,
				State:    nut07.Unspent,
			}
		}
		if err := db.SaveProofs(rows); err != nil {
			return nil, fmt.Errorf("error saving restored proofs: %v", err)
		}
	}

	return restored, nil
}

type restoreBatch struct {
	outputs cashu.BlindedMessages
	secrets []string
	rs      []*secp256k1.PrivateKey
}

// restoreBatchOutputs derives a batch of blinded messages starting at
// counter. Amounts are a placeholder of 1; the mint's restore reply
// carries the amount each signature was actually issued for.
func (w *Wallet) restoreBatchOutputs(keysetPath *hdkeychain.ExtendedKey, keysetId string, counter uint32) (
	*restoreBatch, error) {

	batch := &restoreBatch{
		outputs: make(cashu.BlindedMessages, restoreBatchSize),
		secrets: make([]string, restoreBatchSize),
		rs:      make([]*secp256k1.PrivateKey, restoreBatchSize),
	}

	for i := 0; i < restoreBatchSize; i++ {
		c := counter + uint32(i)

		secret, err := nut13.DeriveSecret(keysetPath, c)
		if err != nil {
			return nil, err
		}
		r, err := nut13.DeriveBlindingFactor(keysetPath, c)
		if err != nil {
			return nil, err
		}
		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			return nil, err
		}

		batch.outputs[i] = cashu.NewBlindedMessage(keysetId, 1, B_)
		batch.secrets[i] = secret
		batch.rs[i] = r
	}

	return batch, nil
}

// filterUnspent keeps the proofs the mint still considers unspent.
func (w *Wallet) filterUnspent(proofs cashu.Proofs) (cashu.Proofs, error) {
	if len(proofs) == 0 {
		return proofs, nil
	}

	states, err := w.CheckProofState(proofs)
	if err != nil {
		return nil, err
	}

	unspent := cashu.Proofs{}
	for i, state := range states {
		if i >= len(proofs) {
			break
		}
		// witness carrying proofs are spend locked, skip them
		if len(state.Witness) > 0 {
			continue
		}
		if state.State == nut07.Unspent {
			unspent = append(unspent, proofs[i])
		}
	}
	return unspent, nil
}
