// Package wallet implements a Cashu wallet: it turns Lightning
// payments into ecash proofs and back, derives every secret
// deterministically from a seed, and keeps counters and proofs in a
// durable store so no secret is ever produced twice.
package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ecashkit/cashew/cashu"
	"github.com/ecashkit/cashew/cashu/nuts/nut03"
	"github.com/ecashkit/cashew/cashu/nuts/nut04"
	"github.com/ecashkit/cashew/cashu/nuts/nut05"
	"github.com/ecashkit/cashew/cashu/nuts/nut07"
	"github.com/ecashkit/cashew/cashu/nuts/nut12"
	"github.com/ecashkit/cashew/cashu/nuts/nut13"
	"github.com/ecashkit/cashew/crypto"
	"github.com/ecashkit/cashew/wallet/storage"
	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/tyler-smith/go-bip39"
)

type Config struct {
	// WalletPath is the directory holding the wallet database. Leave
	// empty to run without storage; operations that derive outputs
	// will then refuse to run.
	WalletPath     string
	CurrentMintURL string
	Unit           cashu.Unit
	// DB overrides the default SQLite store. Mostly useful for tests
	// and embedders that bring their own storage.
	DB storage.WalletDB
	// Timeout for requests to the mint. Defaults to 30s.
	Timeout time.Duration
}

type Wallet struct {
	db     storage.WalletDB
	client *client

	// current mint url, normalized
	mintURL string
	unit    cashu.Unit

	masterKey *hdkeychain.ExtendedKey

	// active keyset from current mint for the wallet unit
	activeKeyset *crypto.WalletKeyset
	// other keysets from current mint for the wallet unit
	inactiveKeysets map[string]crypto.WalletKeyset
}

// MeltResult is the outcome of a melt operation.
type MeltResult struct {
	Paid     bool
	Preimage string
	Change   cashu.Proofs
}

// InitStorage opens the default SQLite store at path for the given
// wallet partition.
func InitStorage(path, walletId string) (storage.WalletDB, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}
	return storage.InitSQLite(filepath.Join(path, "wallet.sqlite.db"), walletId)
}

// LoadWallet sets up a wallet for the configured mint and unit:
// opens storage, loads the seed if one was saved, and fetches the
// mint's keysets.
func LoadWallet(config Config) (*Wallet, error) {
	mintURL, err := normalizeMintURL(config.CurrentMintURL)
	if err != nil {
		return nil, err
	}

	wallet := &Wallet{
		mintURL: mintURL,
		unit:    config.Unit,
		client:  newClient(mintURL, config.Timeout),
	}

	walletId := storage.WalletId(mintURL, config.Unit)
	switch {
	case config.DB != nil:
		wallet.db = config.DB.ForWallet(walletId)
	case config.WalletPath != "":
		db, err := InitStorage(config.WalletPath, walletId)
		if err != nil {
			return nil, fmt.Errorf("InitStorage: %v", err)
		}
		wallet.db = db
	}

	if err := wallet.loadMint(); err != nil {
		return nil, err
	}

	if wallet.db != nil {
		if seed := wallet.db.GetSeed(); seed != nil {
			masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
			if err != nil {
				return nil, fmt.Errorf("invalid master key from stored seed: %v", err)
			}
			wallet.masterKey = masterKey
		}
	}

	return wallet, nil
}

func normalizeMintURL(mintURL string) (string, error) {
	u, err := url.Parse(mintURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid mint url '%v'", mintURL)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

func (w *Wallet) CurrentMint() string {
	return w.mintURL
}

func (w *Wallet) Unit() cashu.Unit {
	return w.unit
}

// Mnemonic returns the stored mnemonic, if any.
func (w *Wallet) Mnemonic() string {
	if w.db == nil {
		return ""
	}
	return w.db.GetMnemonic()
}

// InitFromMnemonic loads the wallet seed from a BIP-39 mnemonic and
// optional passphrase. With storage configured, the seed is persisted
// alongside the counters loaded from the store.
func (w *Wallet) InitFromMnemonic(mnemonic, passphrase string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return fmt.Errorf("invalid master key: %v", err)
	}
	w.masterKey = masterKey

	if w.db != nil {
		if err := w.db.SaveMnemonicSeed(mnemonic, seed); err != nil {
			return fmt.Errorf("error saving seed: %v", err)
		}
	}

	return nil
}

// GenerateMnemonic creates a new 12 word mnemonic and initializes the
// wallet seed from it. It refuses to run without storage: counters
// would be ephemeral and the next run would reuse them.
func (w *Wallet) GenerateMnemonic() (string, error) {
	if w.db == nil {
		return "", ErrStorageRequired
	}
	if w.db.GetSeed() != nil {
		return "", ErrMnemonicAlreadySet
	}

	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", err
	}

	if err := w.InitFromMnemonic(mnemonic, ""); err != nil {
		return "", err
	}
	return mnemonic, nil
}

// ensureSafeState gates every operation that advances a counter:
// a seed must be present and counters must be durable.
func (w *Wallet) ensureSafeState() error {
	if w.masterKey == nil {
		return ErrNoSeed
	}
	if w.db == nil {
		return ErrUnsafeState
	}
	return nil
}

// Balance returns the sum of unspent proofs in the store.
func (w *Wallet) Balance() uint64 {
	if w.db == nil {
		return 0
	}
	return w.db.GetProofsByState(nut07.Unspent).Amount()
}

// PendingBalance returns the sum of proofs handed out but not yet
// confirmed spent.
func (w *Wallet) PendingBalance() uint64 {
	if w.db == nil {
		return 0
	}
	return w.db.GetProofsByState(nut07.Pending).Amount()
}

// RequestMintQuote asks the mint for a bolt11 invoice to mint amount.
func (w *Wallet) RequestMintQuote(amount uint64) (*nut04.PostMintQuoteBolt11Response, error) {
	return w.client.PostMintQuoteBolt11(nut04.PostMintQuoteBolt11Request{
		Amount: amount,
		Unit:   w.unit.String(),
	})
}

// GetMintQuoteState checks the state of a mint quote. Callers poll
// this while waiting for the invoice to be paid.
func (w *Wallet) GetMintQuoteState(quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	return w.client.GetMintQuoteState(quoteId)
}

// Mint redeems a paid mint quote for new proofs. Counters are
// advanced before the network call, so a lost response burns counter
// values but never reuses them; the persisted proofs stay queryable
// by quote id for crash recovery.
func (w *Wallet) Mint(quoteId string, amount uint64) (cashu.Proofs, error) {
	if err := w.ensureSafeState(); err != nil {
		return nil, err
	}

	quote, err := w.client.GetMintQuoteState(quoteId)
	if err != nil {
		return nil, err
	}
	switch quote.State {
	case nut04.Unpaid:
		return nil, ErrQuoteNotPaid
	case nut04.Issued:
		return nil, fmt.Errorf("quote '%v' was already issued", quoteId)
	}

	amounts := cashu.AmountSplit(amount)
	outputs, secrets, rs, err := w.deterministicOutputs(amounts)
	if err != nil {
		return nil, err
	}

	mintResponse, err := w.client.PostMintBolt11(nut04.PostMintBolt11Request{
		Quote:   quoteId,
		Outputs: outputs,
	})
	if err != nil {
		return nil, err
	}

	proofs, err := w.constructProofs(mintResponse.Signatures, outputs, secrets, rs)
	if err != nil {
		return nil, err
	}

	if err := w.db.SaveProofs(w.proofRows(proofs, nut07.Unspent, quoteId)); err != nil {
		return nil, fmt.Errorf("error saving proofs: %v", err)
	}

	return proofs, nil
}

// Swap exchanges inputs at the mint for fresh proofs with the given
// target amounts. It requires sum(inputs) - fees == sum(targets).
// Marking the inputs spent and inserting the outputs commit together.
func (w *Wallet) Swap(inputs cashu.Proofs, targetAmounts []uint64) (cashu.Proofs, error) {
	fee, err := w.fees(inputs)
	if err != nil {
		return nil, err
	}
	var targetsTotal uint64
	for _, amount := range targetAmounts {
		targetsTotal += amount
	}
	if inputs.Amount()-fee != targetsTotal {
		return nil, ErrAmountMismatch
	}

	outputs, secrets, rs, err := w.deterministicOutputs(targetAmounts)
	if err != nil {
		return nil, err
	}

	swapResponse, err := w.client.PostSwap(nut03.PostSwapRequest{
		Inputs:  inputs,
		Outputs: outputs,
	})
	if err != nil {
		return nil, err
	}

	proofs, err := w.constructProofs(swapResponse.Signatures, outputs, secrets, rs)
	if err != nil {
		return nil, err
	}

	inputSecrets := make([]string, len(inputs))
	for i, proof := range inputs {
		inputSecrets[i] = proof.Secret
	}
	if err := w.db.CommitRound(w.proofRows(proofs, nut07.Unspent, ""), inputSecrets); err != nil {
		return nil, fmt.Errorf("error committing swap: %v", err)
	}

	return proofs, nil
}

// Send selects proofs covering amount plus fees and swaps them into
// an exact set to hand out. The returned proofs are marked PENDING in
// the store until the receiver redeems them or they are reclaimed.
func (w *Wallet) Send(amount uint64) (cashu.Proofs, error) {
	if amount == 0 {
		return nil, errors.New("amount cannot be 0")
	}

	selected, fee, err := w.selectProofsToSend(amount)
	if err != nil {
		return nil, err
	}

	sendAmounts := cashu.AmountSplit(amount)
	keepAmounts := cashu.AmountSplit(selected.Amount() - amount - fee)
	targetAmounts := append(keepAmounts, sendAmounts...)

	proofs, err := w.Swap(selected, targetAmounts)
	if err != nil {
		return nil, err
	}

	// separate swapped proofs into send and keep by consuming one
	// proof per send denomination
	send := make(cashu.Proofs, 0, len(sendAmounts))
	needed := make(map[uint64]uint)
	for _, amt := range sendAmounts {
		needed[amt]++
	}
	for _, proof := range proofs {
		if needed[proof.Amount] > 0 {
			needed[proof.Amount]--
			send = append(send, proof)
		}
	}

	sendSecrets := make([]string, len(send))
	for i, proof := range send {
		sendSecrets[i] = proof.Secret
	}
	if err := w.db.UpdateProofsState(sendSecrets, nut07.Pending); err != nil {
		return nil, fmt.Errorf("error marking proofs pending: %v", err)
	}

	return send, nil
}

// ProofsForAmount selects unspent proofs covering amount plus their
// input fee, largest first. The selection stays in the store; callers
// hand it to Melt or Swap, which handle change.
func (w *Wallet) ProofsForAmount(amount uint64) (cashu.Proofs, error) {
	selected, _, err := w.selectProofsToSend(amount)
	return selected, err
}

// selectProofsToSend picks unspent proofs greedily, largest first,
// until they cover amount plus the input fee of the selection.
func (w *Wallet) selectProofsToSend(amount uint64) (cashu.Proofs, uint64, error) {
	if w.db == nil {
		return nil, 0, ErrStorageRequired
	}
	available := w.db.GetProofsByState(nut07.Unspent).Proofs()

	target := amount
	for {
		selected, err := selectProofs(available, target)
		if err != nil {
			return nil, 0, err
		}
		fee, err := w.fees(selected)
		if err != nil {
			return nil, 0, err
		}
		if selected.Amount() >= amount+fee {
			return selected, fee, nil
		}
		if target == amount+fee {
			// selection is stable but still short
			return nil, 0, fmt.Errorf("%w: have %v, need %v", ErrInsufficientBalance, available.Amount(), amount+fee)
		}
		target = amount + fee
	}
}

// selectProofs accumulates proofs sorted by amount descending until
// they reach target.
func selectProofs(available cashu.Proofs, target uint64) (cashu.Proofs, error) {
	sorted := make(cashu.Proofs, len(available))
	copy(sorted, available)
	for i := 0; i < len(sorted)-1; i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i].Amount < sorted[j].Amount {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	selected := cashu.Proofs{}
	var sum uint64
	for _, proof := range sorted {
		if sum >= target {
			break
		}
		selected = append(selected, proof)
		sum += proof.Amount
	}
	if sum < target {
		return nil, fmt.Errorf("%w: have %v, need %v", ErrInsufficientBalance, sum, target)
	}
	return selected, nil
}

// Receive imports a serialized token from this wallet's mint. The
// token proofs are immediately swapped for fresh deterministic ones,
// so the sender can no longer spend them.
func (w *Wallet) Receive(tokenString string) (cashu.Proofs, error) {
	token, err := cashu.DecodeToken(tokenString)
	if err != nil {
		return nil, err
	}

	tokenMint, err := normalizeMintURL(token.Mint())
	if err != nil {
		return nil, err
	}
	if tokenMint != w.mintURL {
		return nil, WrongMintErr{Expected: w.mintURL, Got: tokenMint}
	}

	proofs := token.Proofs()
	if err := w.verifyProofsDLEQ(proofs); err != nil {
		return nil, err
	}

	fee, err := w.fees(proofs)
	if err != nil {
		return nil, err
	}
	amount := proofs.Amount()
	if amount <= fee {
		return nil, fmt.Errorf("%w: token amount %v does not cover fee %v", ErrInsufficientBalance, amount, fee)
	}

	return w.Swap(proofs, cashu.AmountSplit(amount-fee))
}

// verifyProofsDLEQ verifies any DLEQ proofs carried by the proofs
// against the mint keys of their keysets.
func (w *Wallet) verifyProofsDLEQ(proofs cashu.Proofs) error {
	byKeyset := make(map[string]cashu.Proofs)
	for _, proof := range proofs {
		if proof.DLEQ != nil {
			byKeyset[proof.Id] = append(byKeyset[proof.Id], proof)
		}
	}

	for keysetId, keysetProofs := range byKeyset {
		keys, err := w.keysetKeys(keysetId)
		if err != nil {
			return err
		}
		keyset := crypto.WalletKeyset{Id: keysetId, PublicKeys: keys}
		if !nut12.VerifyProofsDLEQ(keysetProofs, keyset) {
			return errors.New("invalid DLEQ proof")
		}
	}
	return nil
}

// RequestMeltQuote asks the mint for a quote to pay a bolt11 invoice.
func (w *Wallet) RequestMeltQuote(request string) (*nut05.PostMeltQuoteBolt11Response, error) {
	if _, err := decodepay.Decodepay(request); err != nil {
		return nil, fmt.Errorf("invalid invoice: %v", err)
	}

	return w.client.PostMeltQuoteBolt11(nut05.PostMeltQuoteBolt11Request{
		Request: request,
		Unit:    w.unit.String(),
	})
}

// GetMeltQuoteState checks the state of a melt quote.
func (w *Wallet) GetMeltQuoteState(quoteId string) (*nut05.PostMeltQuoteBolt11Response, error) {
	return w.client.GetMeltQuoteState(quoteId)
}

// Melt burns inputs to have the mint pay the quoted invoice. Inputs
// must cover quote amount plus fee reserve; the part of the inputs
// beyond that comes back as deterministic change proofs. No change
// outputs are requested for the fee reserve itself. On success the
// inputs are marked spent and change is inserted in one transaction.
func (w *Wallet) Melt(quoteId string, inputs cashu.Proofs) (*MeltResult, error) {
	quote, err := w.client.GetMeltQuoteState(quoteId)
	if err != nil {
		return nil, err
	}
	if quote.State == nut05.Paid {
		return nil, fmt.Errorf("quote '%v' was already paid", quoteId)
	}

	totalNeeded := quote.Amount + quote.FeeReserve
	if inputs.Amount() < totalNeeded {
		return nil, fmt.Errorf("%w: have %v, need %v", ErrInsufficientBalance, inputs.Amount(), totalNeeded)
	}

	var outputs cashu.BlindedMessages
	var secrets []string
	var rs []*secp256k1.PrivateKey
	if changeAmount := inputs.Amount() - totalNeeded; changeAmount > 0 {
		outputs, secrets, rs, err = w.deterministicOutputs(cashu.AmountSplit(changeAmount))
		if err != nil {
			return nil, err
		}
	} else if err := w.ensureSafeState(); err != nil {
		return nil, err
	}

	inputSecrets := make([]string, len(inputs))
	for i, proof := range inputs {
		inputSecrets[i] = proof.Secret
	}

	meltResponse, err := w.client.PostMeltBolt11(nut05.PostMeltBolt11Request{
		Quote:   quoteId,
		Inputs:  inputs,
		Outputs: outputs,
	})
	if err != nil {
		return nil, err
	}

	switch meltResponse.State {
	case nut05.Paid:
		var change cashu.Proofs
		if len(meltResponse.Change) > 0 {
			n := len(meltResponse.Change)
			if n > len(outputs) {
				n = len(outputs)
			}
			change, err = w.constructProofs(meltResponse.Change[:n], outputs[:n], secrets[:n], rs[:n])
			if err != nil {
				return nil, err
			}
		}
		if err := w.db.CommitRound(w.proofRows(change, nut07.Unspent, ""), inputSecrets); err != nil {
			return nil, fmt.Errorf("error committing melt: %v", err)
		}
		return &MeltResult{Paid: true, Preimage: meltResponse.Preimage, Change: change}, nil

	case nut05.Pending:
		if err := w.db.UpdateProofsState(inputSecrets, nut07.Pending); err != nil {
			return nil, fmt.Errorf("error marking proofs pending: %v", err)
		}
		return &MeltResult{Paid: false}, nil

	default:
		return &MeltResult{Paid: false}, nil
	}
}

// CheckProofState asks the mint for the state of each proof, in order.
func (w *Wallet) CheckProofState(proofs cashu.Proofs) ([]nut07.ProofState, error) {
	Ys, err := proofs.Ys()
	if err != nil {
		return nil, err
	}

	stateResponse, err := w.client.PostCheckProofState(nut07.PostCheckStateRequest{Ys: Ys})
	if err != nil {
		return nil, err
	}
	return stateResponse.States, nil
}

// SyncProofStates asks the mint about every unspent and pending proof
// and marks spent the ones the mint considers spent.
func (w *Wallet) SyncProofStates() error {
	if w.db == nil {
		return ErrStorageRequired
	}

	rows := append(w.db.GetProofsByState(nut07.Unspent), w.db.GetProofsByState(nut07.Pending)...)
	if len(rows) == 0 {
		return nil
	}

	secretByY := make(map[string]string, len(rows))
	Ys := make([]string, len(rows))
	for i, row := range rows {
		Y := row.Y
		if Y == "" {
			var err error
			Y, err = crypto.HashToCurveHex(row.Secret)
			if err != nil {
				return err
			}
		}
		Ys[i] = Y
		secretByY[Y] = row.Secret
	}

	stateResponse, err := w.client.PostCheckProofState(nut07.PostCheckStateRequest{Ys: Ys})
	if err != nil {
		return err
	}

	var spentSecrets []string
	for _, proofState := range stateResponse.States {
		if proofState.State == nut07.Spent {
			if secret, ok := secretByY[proofState.Y]; ok {
				spentSecrets = append(spentSecrets, secret)
			}
		}
	}

	return w.db.UpdateProofsState(spentSecrets, nut07.Spent)
}

// PendingProofs returns proofs previously handed out with Send that
// have not been confirmed spent.
func (w *Wallet) PendingProofs() cashu.Proofs {
	if w.db == nil {
		return cashu.Proofs{}
	}
	return w.db.GetProofsByState(nut07.Pending).Proofs()
}

// ReclaimPendingProofs checks pending proofs against the mint. Spent
// ones are marked spent; proofs the receiver never redeemed are
// swapped back into fresh unspent proofs.
func (w *Wallet) ReclaimPendingProofs() (cashu.Proofs, error) {
	if w.db == nil {
		return nil, ErrStorageRequired
	}

	pending := w.db.GetProofsByState(nut07.Pending).Proofs()
	if len(pending) == 0 {
		return cashu.Proofs{}, nil
	}

	states, err := w.CheckProofState(pending)
	if err != nil {
		return nil, err
	}

	var spentSecrets []string
	var reclaimable cashu.Proofs
	for i, state := range states {
		if i >= len(pending) {
			break
		}
		switch state.State {
		case nut07.Spent:
			spentSecrets = append(spentSecrets, pending[i].Secret)
		case nut07.Unspent:
			reclaimable = append(reclaimable, pending[i])
		}
	}

	if err := w.db.UpdateProofsState(spentSecrets, nut07.Spent); err != nil {
		return nil, err
	}

	if len(reclaimable) == 0 {
		return cashu.Proofs{}, nil
	}

	fee, err := w.fees(reclaimable)
	if err != nil {
		return nil, err
	}
	if reclaimable.Amount() <= fee {
		return cashu.Proofs{}, nil
	}
	return w.Swap(reclaimable, cashu.AmountSplit(reclaimable.Amount()-fee))
}

// GetProofsByQuoteId returns proofs persisted for a mint quote. After
// a crash between minting and observing the result, this tells the
// caller whether the proofs made it to the store.
func (w *Wallet) GetProofsByQuoteId(quoteId string) cashu.Proofs {
	if w.db == nil {
		return cashu.Proofs{}
	}
	return w.db.GetProofsByQuote(quoteId).Proofs()
}

// deterministicOutputs reserves len(amounts) counter values and
// derives a blinded message for each amount. Counters advance before
// any network call: a failed call burns them, it never reuses them.
func (w *Wallet) deterministicOutputs(amounts []uint64) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	if err := w.ensureSafeState(); err != nil {
		return nil, nil, nil, err
	}

	keysetId := w.activeKeyset.Id
	keysetPath, err := nut13.DeriveKeysetPath(w.masterKey, keysetId)
	if err != nil {
		return nil, nil, nil, err
	}

	counter, err := w.db.AdvanceKeysetCounter(keysetId, uint64(len(amounts)))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error advancing counter: %v", err)
	}

	outputs := make(cashu.BlindedMessages, len(amounts))
	secrets := make([]string, len(amounts))
	rs := make([]*secp256k1.PrivateKey, len(amounts))

	for i, amount := range amounts {
		c := uint32(counter + uint64(i))

		secret, err := nut13.DeriveSecret(keysetPath, c)
		if err != nil {
			return nil, nil, nil, err
		}
		r, err := nut13.DeriveBlindingFactor(keysetPath, c)
		if err != nil {
			return nil, nil, nil, err
		}

		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			return nil, nil, nil, err
		}

		outputs[i] = cashu.NewBlindedMessage(keysetId, amount, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return outputs, secrets, rs, nil
}

// constructProofs unblinds the signatures into proofs. Signatures are
// paired with the outputs they sign by index; DLEQ proofs, when
// present, are verified and kept with the blinding factor so a later
// receiver can verify them too.
func (w *Wallet) constructProofs(signatures cashu.BlindedSignatures,
	outputs cashu.BlindedMessages, secrets []string, rs []*secp256k1.PrivateKey) (cashu.Proofs, error) {

	if len(signatures) != len(outputs) {
		return nil, errors.New("mint returned a different number of signatures than outputs")
	}

	proofs := make(cashu.Proofs, len(signatures))
	for i, signature := range signatures {
		keys, err := w.keysetKeys(signature.Id)
		if err != nil {
			return nil, err
		}
		pubkey, ok := keys[signature.Amount]
		if !ok {
			return nil, UnknownAmountErr{KeysetId: signature.Id, Amount: signature.Amount}
		}

		C_bytes, err := hex.DecodeString(signature.C_)
		if err != nil {
			return nil, fmt.Errorf("invalid C_: %v", err)
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid C_: %v", err)
		}

		if signature.DLEQ != nil {
			if !nut12.VerifyBlindSignatureDLEQ(*signature.DLEQ, pubkey, outputs[i].B_, signature.C_) {
				return nil, errors.New("invalid DLEQ proof in blind signature")
			}
		}

		C := crypto.UnblindSignature(C_, rs[i], pubkey)

		proof := cashu.Proof{
			Amount: signature.Amount,
			Id:     signature.Id,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
		if signature.DLEQ != nil {
			proof.DLEQ = &cashu.DLEQProof{
				E: signature.DLEQ.E,
				S: signature.DLEQ.S,
				R: hex.EncodeToString(rs[i].Serialize()),
			}
		}
		proofs[i] = proof
	}

	return proofs, nil
}

// proofRows converts proofs to store rows, precomputing Y and tagging
// them with the mint quote that produced them.
func (w *Wallet) proofRows(proofs cashu.Proofs, state nut07.State, quoteId string) storage.DBProofs {
	rows := make(storage.DBProofs, len(proofs))
	for i, proof := range proofs {
		Y, _ := proof.Y()
		rows[i] = storage.DBProof{
			Y:           Y,
			Amount:      proof.Amount,
			KeysetId:    proof.Id,
			Secret:      proof.Secret,
			C:           proof.C,
			DLEQ:        proof.DLEQ,
			State:       state,
			MintQuoteId: quoteId,
		}
	}
	return rows
}
