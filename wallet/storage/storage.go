package storage

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ecashkit/cashew/cashu"
	"github.com/ecashkit/cashew/cashu/nuts/nut07"
	"github.com/ecashkit/cashew/crypto"
)

// DBProof is a proof row. Rows are partitioned by wallet id and unique
// by (wallet id, secret).
type DBProof struct {
	Y           string           `json:"y"`
	Amount      uint64           `json:"amount"`
	KeysetId    string           `json:"keyset_id"`
	Secret      string           `json:"secret"`
	C           string           `json:"C"`
	DLEQ        *cashu.DLEQProof `json:"dleq,omitempty"`
	State       nut07.State      `json:"state"`
	MintQuoteId string           `json:"mint_quote_id,omitempty"`
	CreatedAt   int64            `json:"created_at"`
	SpentAt     int64            `json:"spent_at,omitempty"`
}

type DBProofs []DBProof

func (proofs DBProofs) Amount() uint64 {
	var totalAmount uint64
	for _, proof := range proofs {
		totalAmount += proof.Amount
	}
	return totalAmount
}

// Proofs converts the rows to protocol proofs.
func (proofs DBProofs) Proofs() cashu.Proofs {
	result := make(cashu.Proofs, len(proofs))
	for i, proof := range proofs {
		result[i] = cashu.Proof{
			Amount: proof.Amount,
			Id:     proof.KeysetId,
			Secret: proof.Secret,
			C:      proof.C,
			DLEQ:   proof.DLEQ,
		}
	}
	return result
}

// WalletDB is the durable store behind a wallet. One physical database
// may host many wallets; implementations partition every row by the
// wallet id the handle is bound to.
//
// The counter contract is the load-bearing part: AdvanceKeysetCounter
// is atomic, so no counter value is ever handed out twice, and
// CommitRound persists the outputs of one protocol round together with
// marking its inputs spent, or not at all.
type WalletDB interface {
	SaveMnemonicSeed(mnemonic string, seed []byte) error
	GetSeed() []byte
	GetMnemonic() string

	SaveKeyset(keyset *crypto.WalletKeyset) error
	GetKeysets() crypto.KeysetsMap
	GetKeyset(keysetId string) *crypto.WalletKeyset

	// KeysetCounter returns the next unused counter value.
	KeysetCounter(keysetId string) uint64
	// AdvanceKeysetCounter atomically reserves n consecutive counter
	// values and returns the first of them.
	AdvanceKeysetCounter(keysetId string, n uint64) (uint64, error)
	// SetKeysetCounter overwrites the counter. Only restore uses this.
	SetKeysetCounter(keysetId string, value uint64) error
	KeysetCounters() map[string]uint64

	// SaveProofs inserts by (wallet id, secret); a row that already
	// exists is left unchanged. Storing the same proof twice is
	// idempotent.
	SaveProofs(proofs DBProofs) error
	GetProofs() DBProofs
	GetProofsByState(state nut07.State) DBProofs
	// GetProofsByQuote returns proofs tagged with the mint quote id.
	// This is the crash-recovery hook: a caller that lost the reply of
	// a mint call can find out whether its proofs were persisted.
	GetProofsByQuote(quoteId string) DBProofs
	UpdateProofsState(secrets []string, state nut07.State) error
	DeleteProofs(secrets []string) error
	// CommitRound inserts newProofs and marks spentSecrets SPENT in a
	// single transaction.
	CommitRound(newProofs DBProofs, spentSecrets []string) error

	// ForWallet returns a handle bound to another wallet id sharing
	// the same underlying database.
	ForWallet(walletId string) WalletDB
	WalletId() string
	Close() error
}

// WalletId derives the store partition key for a (mint, unit) pair:
// the first 16 hex chars of sha256(mintURL || ":" || unit).
func WalletId(mintURL string, unit cashu.Unit) string {
	hash := sha256.Sum256([]byte(mintURL + ":" + unit.String()))
	return hex.EncodeToString(hash[:])[:16]
}
