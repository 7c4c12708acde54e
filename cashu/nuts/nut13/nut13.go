// Package nut13 implements deterministic secret derivation.
// Secrets and blinding factors are derived from the wallet seed along
// hardened paths m/129372'/0'/{keyset}'/{counter}', so a wallet can be
// recovered from its mnemonic alone.
// See https://github.com/cashubtc/nuts/blob/main/13.md
package nut13

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var ErrInvalidKeysetId = errors.New("invalid keyset id")

// KeysetIdInt maps a keyset id to the integer used as the hardened
// derivation index: the id bytes read as a big-endian integer, reduced
// modulo 2^31 - 1. Modern ids are hex strings prefixed "00"; legacy
// ids are base64 and accepted for backwards compatibility.
func KeysetIdInt(keysetId string) (uint32, error) {
	keysetBytes, err := hex.DecodeString(keysetId)
	if err != nil {
		keysetBytes, err = base64.StdEncoding.DecodeString(keysetId)
		if err != nil {
			keysetBytes, err = base64.URLEncoding.DecodeString(keysetId)
			if err != nil {
				return 0, ErrInvalidKeysetId
			}
		}
	}
	if len(keysetBytes) == 0 {
		return 0, ErrInvalidKeysetId
	}

	if len(keysetBytes) == 8 {
		return uint32(binary.BigEndian.Uint64(keysetBytes) % (1<<31 - 1)), nil
	}

	// legacy ids decode to more than 8 bytes
	keysetInt := new(big.Int).SetBytes(keysetBytes)
	return uint32(keysetInt.Mod(keysetInt, big.NewInt(1<<31-1)).Uint64()), nil
}

// DeriveKeysetPath derives m/129372'/0'/{keyset_k_int}' from the master key.
func DeriveKeysetPath(master *hdkeychain.ExtendedKey, keysetId string) (*hdkeychain.ExtendedKey, error) {
	keysetIdInt, err := KeysetIdInt(keysetId)
	if err != nil {
		return nil, err
	}

	// m/129372'
	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + 129372)
	if err != nil {
		return nil, err
	}

	// m/129372'/0'
	coinType, err := purpose.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, err
	}

	// m/129372'/0'/keyset_k_int'
	keysetPath, err := coinType.Derive(hdkeychain.HardenedKeyStart + keysetIdInt)
	if err != nil {
		return nil, err
	}

	return keysetPath, nil
}

// DeriveSecret derives the proof secret for counter:
// m/129372'/0'/{keyset}'/{counter}'/0, hex encoded. The hex string
// itself is the secret on the wire.
func DeriveSecret(keysetPath *hdkeychain.ExtendedKey, counter uint32) (string, error) {
	// m/129372'/0'/keyset_k_int'/counter'
	counterPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + counter)
	if err != nil {
		return "", err
	}

	// m/129372'/0'/keyset_k_int'/counter'/0
	secretDerivationPath, err := counterPath.Derive(0)
	if err != nil {
		return "", err
	}

	secretKey, err := secretDerivationPath.ECPrivKey()
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(secretKey.Serialize()), nil
}

// DeriveBlindingFactor derives the blinding factor for counter:
// m/129372'/0'/{keyset}'/{counter}'/1, reduced mod n.
func DeriveBlindingFactor(keysetPath *hdkeychain.ExtendedKey, counter uint32) (*secp256k1.PrivateKey, error) {
	// m/129372'/0'/keyset_k_int'/counter'
	counterPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + counter)
	if err != nil {
		return nil, err
	}

	// m/129372'/0'/keyset_k_int'/counter'/1
	rDerivationPath, err := counterPath.Derive(1)
	if err != nil {
		return nil, err
	}

	rkey, err := rDerivationPath.ECPrivKey()
	if err != nil {
		return nil, err
	}

	return rkey, nil
}
