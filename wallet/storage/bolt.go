package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ecashkit/cashew/cashu/nuts/nut07"
	"github.com/ecashkit/cashew/crypto"
	bolt "go.etcd.io/bbolt"
)

const (
	walletsBucket  = "wallets"
	seedBucket     = "seed"
	proofsBucket   = "proofs"
	countersBucket = "counters"
	keysetsBucket  = "keysets"

	mnemonicKey = "mnemonic"
	seedKey     = "seed"
)

// BoltDB implements WalletDB on a bbolt file. Rows live in nested
// buckets under the wallet id, so many wallets share one file.
type BoltDB struct {
	bolt     *bolt.DB
	walletId string
}

func InitBolt(path, walletId string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("error opening wallet db: %v", err)
	}

	boltdb := &BoltDB{bolt: db, walletId: walletId}
	if err := boltdb.initWalletBuckets(); err != nil {
		return nil, fmt.Errorf("error setting up wallet db: %v", err)
	}

	return boltdb, nil
}

func (db *BoltDB) initWalletBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(seedBucket)); err != nil {
			return err
		}

		wallets, err := tx.CreateBucketIfNotExists([]byte(walletsBucket))
		if err != nil {
			return err
		}
		wallet, err := wallets.CreateBucketIfNotExists([]byte(db.walletId))
		if err != nil {
			return err
		}
		for _, bucket := range []string{proofsBucket, countersBucket, keysetsBucket} {
			if _, err := wallet.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) WalletId() string {
	return db.walletId
}

func (db *BoltDB) ForWallet(walletId string) WalletDB {
	view := &BoltDB{bolt: db.bolt, walletId: walletId}
	// bucket creation is idempotent
	view.initWalletBuckets()
	return view
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

// walletBucket returns the nested bucket for this wallet partition.
func (db *BoltDB) walletBucket(tx *bolt.Tx, name string) *bolt.Bucket {
	return tx.Bucket([]byte(walletsBucket)).Bucket([]byte(db.walletId)).Bucket([]byte(name))
}

func (db *BoltDB) SaveMnemonicSeed(mnemonic string, seed []byte) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		seedb := tx.Bucket([]byte(seedBucket))
		if err := seedb.Put([]byte(mnemonicKey), []byte(mnemonic)); err != nil {
			return err
		}
		return seedb.Put([]byte(seedKey), seed)
	})
}

func (db *BoltDB) GetSeed() []byte {
	var seed []byte
	db.bolt.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(seedBucket)).Get([]byte(seedKey)); v != nil {
			seed = make([]byte, len(v))
			copy(seed, v)
		}
		return nil
	})
	return seed
}

func (db *BoltDB) GetMnemonic() string {
	var mnemonic string
	db.bolt.View(func(tx *bolt.Tx) error {
		mnemonic = string(tx.Bucket([]byte(seedBucket)).Get([]byte(mnemonicKey)))
		return nil
	})
	return mnemonic
}

func (db *BoltDB) SaveKeyset(keyset *crypto.WalletKeyset) error {
	jsonKeyset, err := json.Marshal(keyset)
	if err != nil {
		return fmt.Errorf("invalid keyset: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		return db.walletBucket(tx, keysetsBucket).Put([]byte(keyset.Id), jsonKeyset)
	})
}

func (db *BoltDB) GetKeysets() crypto.KeysetsMap {
	keysets := make(crypto.KeysetsMap)

	db.bolt.View(func(tx *bolt.Tx) error {
		c := db.walletBucket(tx, keysetsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var keyset crypto.WalletKeyset
			if err := json.Unmarshal(v, &keyset); err != nil {
				continue
			}
			if _, ok := keysets[keyset.MintURL]; !ok {
				keysets[keyset.MintURL] = make(map[string]crypto.WalletKeyset)
			}
			keysets[keyset.MintURL][keyset.Id] = keyset
		}
		return nil
	})

	return keysets
}

func (db *BoltDB) GetKeyset(keysetId string) *crypto.WalletKeyset {
	var keyset *crypto.WalletKeyset
	db.bolt.View(func(tx *bolt.Tx) error {
		if v := db.walletBucket(tx, keysetsBucket).Get([]byte(keysetId)); v != nil {
			var ks crypto.WalletKeyset
			if err := json.Unmarshal(v, &ks); err == nil {
				keyset = &ks
			}
		}
		return nil
	})
	return keyset
}

func counterFromBytes(v []byte) uint64 {
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func counterToBytes(counter uint64) []byte {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, counter)
	return v
}

func (db *BoltDB) KeysetCounter(keysetId string) uint64 {
	var counter uint64
	db.bolt.View(func(tx *bolt.Tx) error {
		counter = counterFromBytes(db.walletBucket(tx, countersBucket).Get([]byte(keysetId)))
		return nil
	})
	return counter
}

func (db *BoltDB) AdvanceKeysetCounter(keysetId string, n uint64) (uint64, error) {
	var counter uint64
	// Update serializes writers, so the read+write below is atomic
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		counters := db.walletBucket(tx, countersBucket)
		counter = counterFromBytes(counters.Get([]byte(keysetId)))
		return counters.Put([]byte(keysetId), counterToBytes(counter+n))
	})
	if err != nil {
		return 0, err
	}
	return counter, nil
}

func (db *BoltDB) SetKeysetCounter(keysetId string, value uint64) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return db.walletBucket(tx, countersBucket).Put([]byte(keysetId), counterToBytes(value))
	})
}

func (db *BoltDB) KeysetCounters() map[string]uint64 {
	counters := make(map[string]uint64)
	db.bolt.View(func(tx *bolt.Tx) error {
		c := db.walletBucket(tx, countersBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			counters[string(k)] = counterFromBytes(v)
		}
		return nil
	})
	return counters
}

func putProofs(proofsb *bolt.Bucket, proofs DBProofs) error {
	for _, proof := range proofs {
		// insert by secret, existing rows are left unchanged
		if proofsb.Get([]byte(proof.Secret)) != nil {
			continue
		}
		if proof.CreatedAt == 0 {
			proof.CreatedAt = time.Now().Unix()
		}
		jsonProof, err := json.Marshal(proof)
		if err != nil {
			return fmt.Errorf("invalid proof: %v", err)
		}
		if err := proofsb.Put([]byte(proof.Secret), jsonProof); err != nil {
			return err
		}
	}
	return nil
}

func (db *BoltDB) SaveProofs(proofs DBProofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return putProofs(db.walletBucket(tx, proofsBucket), proofs)
	})
}

func (db *BoltDB) GetProofs() DBProofs {
	proofs := DBProofs{}
	db.bolt.View(func(tx *bolt.Tx) error {
		c := db.walletBucket(tx, proofsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var proof DBProof
			if err := json.Unmarshal(v, &proof); err != nil {
				continue
			}
			proofs = append(proofs, proof)
		}
		return nil
	})
	return proofs
}

func (db *BoltDB) GetProofsByState(state nut07.State) DBProofs {
	proofs := DBProofs{}
	for _, proof := range db.GetProofs() {
		if proof.State == state {
			proofs = append(proofs, proof)
		}
	}
	return proofs
}

func (db *BoltDB) GetProofsByQuote(quoteId string) DBProofs {
	proofs := DBProofs{}
	if quoteId == "" {
		return proofs
	}
	for _, proof := range db.GetProofs() {
		if proof.MintQuoteId == quoteId {
			proofs = append(proofs, proof)
		}
	}
	return proofs
}

func updateProofsStateBolt(proofsb *bolt.Bucket, secrets []string, state nut07.State) error {
	for _, secret := range secrets {
		v := proofsb.Get([]byte(secret))
		if v == nil {
			continue
		}
		var proof DBProof
		if err := json.Unmarshal(v, &proof); err != nil {
			return err
		}
		proof.State = state
		if state == nut07.Spent {
			proof.SpentAt = time.Now().Unix()
		}
		jsonProof, err := json.Marshal(proof)
		if err != nil {
			return err
		}
		if err := proofsb.Put([]byte(secret), jsonProof); err != nil {
			return err
		}
	}
	return nil
}

func (db *BoltDB) UpdateProofsState(secrets []string, state nut07.State) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return updateProofsStateBolt(db.walletBucket(tx, proofsBucket), secrets, state)
	})
}

func (db *BoltDB) DeleteProofs(secrets []string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsb := db.walletBucket(tx, proofsBucket)
		for _, secret := range secrets {
			if err := proofsb.Delete([]byte(secret)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) CommitRound(newProofs DBProofs, spentSecrets []string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsb := db.walletBucket(tx, proofsBucket)
		if err := putProofs(proofsb, newProofs); err != nil {
			return err
		}
		return updateProofsStateBolt(proofsb, spentSecrets, nut07.Spent)
	})
}
