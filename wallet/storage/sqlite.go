package storage

import (
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ecashkit/cashew/cashu"
	"github.com/ecashkit/cashew/cashu/nuts/nut07"
	"github.com/ecashkit/cashew/crypto"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type SQLiteDB struct {
	db       *sql.DB
	walletId string
}

// InitSQLite opens (creating if needed) the wallet database at path,
// bound to walletId. WAL and a busy timeout are set so multiple
// processes can share the file.
func InitSQLite(path, walletId string) (*SQLiteDB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, fmt.Sprintf("sqlite3://%s", path))
	if err != nil {
		return nil, err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db, walletId: walletId}, nil
}

func (sqlite *SQLiteDB) WalletId() string {
	return sqlite.walletId
}

func (sqlite *SQLiteDB) ForWallet(walletId string) WalletDB {
	return &SQLiteDB{db: sqlite.db, walletId: walletId}
}

func (sqlite *SQLiteDB) Close() error {
	return sqlite.db.Close()
}

func (sqlite *SQLiteDB) SaveMnemonicSeed(mnemonic string, seed []byte) error {
	_, err := sqlite.db.Exec(`
	INSERT INTO seed (id, mnemonic, seed) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET mnemonic = excluded.mnemonic, seed = excluded.seed
	`, "id", mnemonic, hex.EncodeToString(seed))

	return err
}

func (sqlite *SQLiteDB) GetSeed() []byte {
	var hexSeed string
	row := sqlite.db.QueryRow("SELECT seed FROM seed WHERE id = ?", "id")
	if err := row.Scan(&hexSeed); err != nil {
		return nil
	}

	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil
	}
	return seed
}

func (sqlite *SQLiteDB) GetMnemonic() string {
	var mnemonic string
	row := sqlite.db.QueryRow("SELECT mnemonic FROM seed WHERE id = ?", "id")
	if err := row.Scan(&mnemonic); err != nil {
		return ""
	}
	return mnemonic
}

func (sqlite *SQLiteDB) SaveKeyset(keyset *crypto.WalletKeyset) error {
	hexKeys := make(map[uint64]string, len(keyset.PublicKeys))
	for amount, pubkey := range keyset.PublicKeys {
		hexKeys[amount] = hex.EncodeToString(pubkey.SerializeCompressed())
	}
	keys, err := json.Marshal(hexKeys)
	if err != nil {
		return err
	}

	_, err = sqlite.db.Exec(`
	INSERT INTO keysets (wallet_id, id, mint_url, unit, active, input_fee_ppk, public_keys)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(wallet_id, id) DO UPDATE SET
	active = excluded.active, input_fee_ppk = excluded.input_fee_ppk, public_keys = excluded.public_keys
	`, sqlite.walletId, keyset.Id, keyset.MintURL, keyset.Unit, keyset.Active, keyset.InputFeePpk, string(keys))

	return err
}

func (sqlite *SQLiteDB) GetKeysets() crypto.KeysetsMap {
	keysets := make(crypto.KeysetsMap)

	rows, err := sqlite.db.Query(`
	SELECT id, mint_url, unit, active, input_fee_ppk, public_keys FROM keysets WHERE wallet_id = ?
	`, sqlite.walletId)
	if err != nil {
		return keysets
	}
	defer rows.Close()

	for rows.Next() {
		keyset, err := scanKeyset(rows)
		if err != nil {
			continue
		}
		if _, ok := keysets[keyset.MintURL]; !ok {
			keysets[keyset.MintURL] = make(map[string]crypto.WalletKeyset)
		}
		keysets[keyset.MintURL][keyset.Id] = *keyset
	}

	return keysets
}

func (sqlite *SQLiteDB) GetKeyset(keysetId string) *crypto.WalletKeyset {
	row := sqlite.db.QueryRow(`
	SELECT id, mint_url, unit, active, input_fee_ppk, public_keys FROM keysets
	WHERE wallet_id = ? AND id = ?
	`, sqlite.walletId, keysetId)

	keyset, err := scanKeyset(row)
	if err != nil {
		return nil
	}
	return keyset
}

type scannable interface {
	Scan(dest ...any) error
}

func scanKeyset(row scannable) (*crypto.WalletKeyset, error) {
	var keyset crypto.WalletKeyset
	var publicKeys sql.NullString
	err := row.Scan(
		&keyset.Id,
		&keyset.MintURL,
		&keyset.Unit,
		&keyset.Active,
		&keyset.InputFeePpk,
		&publicKeys,
	)
	if err != nil {
		return nil, err
	}

	if publicKeys.Valid && len(publicKeys.String) > 0 {
		var keys map[uint64]string
		if err := json.Unmarshal([]byte(publicKeys.String), &keys); err != nil {
			return nil, err
		}
		keyset.PublicKeys, err = crypto.MapPubKeys(keys)
		if err != nil {
			return nil, err
		}
	}

	return &keyset, nil
}

func (sqlite *SQLiteDB) KeysetCounter(keysetId string) uint64 {
	var counter uint64
	row := sqlite.db.QueryRow(`
	SELECT counter FROM counters WHERE wallet_id = ? AND keyset_id = ?
	`, sqlite.walletId, keysetId)
	if err := row.Scan(&counter); err != nil {
		return 0
	}
	return counter
}

func (sqlite *SQLiteDB) AdvanceKeysetCounter(keysetId string, n uint64) (uint64, error) {
	// single upsert so concurrent wallets on the same file never get
	// the same counter values
	var counter uint64
	row := sqlite.db.QueryRow(`
	INSERT INTO counters (wallet_id, keyset_id, counter) VALUES (?, ?, ?)
	ON CONFLICT(wallet_id, keyset_id) DO UPDATE SET counter = counter + excluded.counter
	RETURNING counter
	`, sqlite.walletId, keysetId, n)
	if err := row.Scan(&counter); err != nil {
		return 0, err
	}
	return counter - n, nil
}

func (sqlite *SQLiteDB) SetKeysetCounter(keysetId string, value uint64) error {
	_, err := sqlite.db.Exec(`
	INSERT INTO counters (wallet_id, keyset_id, counter) VALUES (?, ?, ?)
	ON CONFLICT(wallet_id, keyset_id) DO UPDATE SET counter = excluded.counter
	`, sqlite.walletId, keysetId, value)
	return err
}

func (sqlite *SQLiteDB) KeysetCounters() map[string]uint64 {
	counters := make(map[string]uint64)

	rows, err := sqlite.db.Query("SELECT keyset_id, counter FROM counters WHERE wallet_id = ?", sqlite.walletId)
	if err != nil {
		return counters
	}
	defer rows.Close()

	for rows.Next() {
		var keysetId string
		var counter uint64
		if err := rows.Scan(&keysetId, &counter); err != nil {
			continue
		}
		counters[keysetId] = counter
	}

	return counters
}

func (sqlite *SQLiteDB) SaveProofs(proofs DBProofs) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertProofs(tx, sqlite.walletId, proofs); err != nil {
		return err
	}

	return tx.Commit()
}

func insertProofs(tx *sql.Tx, walletId string, proofs DBProofs) error {
	stmt, err := tx.Prepare(`
	INSERT INTO proofs (wallet_id, y, keyset_id, amount, secret, c, dleq, state, mint_quote_id, created_at, spent_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(wallet_id, secret) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, proof := range proofs {
		var dleq sql.NullString
		if proof.DLEQ != nil {
			dleqJson, err := json.Marshal(proof.DLEQ)
			if err != nil {
				return err
			}
			dleq = sql.NullString{String: string(dleqJson), Valid: true}
		}

		createdAt := proof.CreatedAt
		if createdAt == 0 {
			createdAt = time.Now().Unix()
		}

		var spentAt sql.NullInt64
		if proof.SpentAt != 0 {
			spentAt = sql.NullInt64{Int64: proof.SpentAt, Valid: true}
		}

		_, err := stmt.Exec(
			walletId,
			proof.Y,
			proof.KeysetId,
			proof.Amount,
			proof.Secret,
			proof.C,
			dleq,
			proof.State.String(),
			sql.NullString{String: proof.MintQuoteId, Valid: proof.MintQuoteId != ""},
			createdAt,
			spentAt,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (sqlite *SQLiteDB) GetProofs() DBProofs {
	return sqlite.queryProofs("SELECT y, keyset_id, amount, secret, c, dleq, state, mint_quote_id, created_at, spent_at FROM proofs WHERE wallet_id = ?", sqlite.walletId)
}

func (sqlite *SQLiteDB) GetProofsByState(state nut07.State) DBProofs {
	return sqlite.queryProofs("SELECT y, keyset_id, amount, secret, c, dleq, state, mint_quote_id, created_at, spent_at FROM proofs WHERE wallet_id = ? AND state = ?", sqlite.walletId, state.String())
}

func (sqlite *SQLiteDB) GetProofsByQuote(quoteId string) DBProofs {
	return sqlite.queryProofs("SELECT y, keyset_id, amount, secret, c, dleq, state, mint_quote_id, created_at, spent_at FROM proofs WHERE wallet_id = ? AND mint_quote_id = ?", sqlite.walletId, quoteId)
}

func (sqlite *SQLiteDB) queryProofs(query string, args ...any) DBProofs {
	proofs := DBProofs{}

	rows, err := sqlite.db.Query(query, args...)
	if err != nil {
		return proofs
	}
	defer rows.Close()

	for rows.Next() {
		var proof DBProof
		var dleq, quoteId sql.NullString
		var state string
		var spentAt sql.NullInt64

		err := rows.Scan(
			&proof.Y,
			&proof.KeysetId,
			&proof.Amount,
			&proof.Secret,
			&proof.C,
			&dleq,
			&state,
			&quoteId,
			&proof.CreatedAt,
			&spentAt,
		)
		if err != nil {
			continue
		}

		if dleq.Valid {
			var dleqProof cashu.DLEQProof
			if err := json.Unmarshal([]byte(dleq.String), &dleqProof); err == nil {
				proof.DLEQ = &dleqProof
			}
		}
		proof.State = nut07.StringToState(state)
		proof.MintQuoteId = quoteId.String
		proof.SpentAt = spentAt.Int64

		proofs = append(proofs, proof)
	}

	return proofs
}

func (sqlite *SQLiteDB) UpdateProofsState(secrets []string, state nut07.State) error {
	if len(secrets) == 0 {
		return nil
	}

	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := updateProofsState(tx, sqlite.walletId, secrets, state); err != nil {
		return err
	}

	return tx.Commit()
}

func updateProofsState(tx *sql.Tx, walletId string, secrets []string, state nut07.State) error {
	query := `UPDATE proofs SET state = ?, spent_at = ? WHERE wallet_id = ? AND secret IN (?` +
		strings.Repeat(",?", len(secrets)-1) + `)`

	var spentAt sql.NullInt64
	if state == nut07.Spent {
		spentAt = sql.NullInt64{Int64: time.Now().Unix(), Valid: true}
	}

	args := make([]any, 0, len(secrets)+3)
	args = append(args, state.String(), spentAt, walletId)
	for _, secret := range secrets {
		args = append(args, secret)
	}

	_, err := tx.Exec(query, args...)
	return err
}

func (sqlite *SQLiteDB) DeleteProofs(secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}

	query := `DELETE FROM proofs WHERE wallet_id = ? AND secret IN (?` +
		strings.Repeat(",?", len(secrets)-1) + `)`

	args := make([]any, 0, len(secrets)+1)
	args = append(args, sqlite.walletId)
	for _, secret := range secrets {
		args = append(args, secret)
	}

	_, err := sqlite.db.Exec(query, args...)
	return err
}

func (sqlite *SQLiteDB) CommitRound(newProofs DBProofs, spentSecrets []string) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertProofs(tx, sqlite.walletId, newProofs); err != nil {
		return err
	}
	if len(spentSecrets) > 0 {
		if err := updateProofsState(tx, sqlite.walletId, spentSecrets, nut07.Spent); err != nil {
			return err
		}
	}

	return tx.Commit()
}
