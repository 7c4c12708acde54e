package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ecashkit/cashew/cashu"
	"github.com/ecashkit/cashew/cashu/nuts/nut01"
	"github.com/ecashkit/cashew/cashu/nuts/nut02"
	"github.com/ecashkit/cashew/cashu/nuts/nut03"
	"github.com/ecashkit/cashew/cashu/nuts/nut04"
	"github.com/ecashkit/cashew/cashu/nuts/nut05"
	"github.com/ecashkit/cashew/cashu/nuts/nut06"
	"github.com/ecashkit/cashew/cashu/nuts/nut07"
	"github.com/ecashkit/cashew/cashu/nuts/nut09"
	"github.com/ecashkit/cashew/crypto"
	"github.com/gorilla/mux"
)

const testMintMaxOrder = 7

// testMint is an in-process mint good enough to drive the wallet:
// it signs outputs with real keys, tracks spent proofs by Y and
// replays signatures for restore.
type testMint struct {
	server *httptest.Server

	keysetId    string
	unit        cashu.Unit
	inputFeePpk uint
	privKeys    map[uint64]*secp256k1.PrivateKey
	pubKeys     map[uint64]*secp256k1.PublicKey

	mu         sync.Mutex
	mintQuotes map[string]*nut04.PostMintQuoteBolt11Response
	meltQuotes map[string]*nut05.PostMeltQuoteBolt11Response
	spentYs    map[string]bool
	signedByB_ map[string]cashu.BlindedSignature
	quoteCount int
	autoPaid   bool
}

func newTestMint(inputFeePpk uint) *testMint {
	tm := &testMint{
		unit:        cashu.Sat,
		inputFeePpk: inputFeePpk,
		privKeys:    make(map[uint64]*secp256k1.PrivateKey),
		pubKeys:     make(map[uint64]*secp256k1.PublicKey),
		mintQuotes:  make(map[string]*nut04.PostMintQuoteBolt11Response),
		meltQuotes:  make(map[string]*nut05.PostMeltQuoteBolt11Response),
		spentYs:     make(map[string]bool),
		signedByB_:  make(map[string]cashu.BlindedSignature),
		autoPaid:    true,
	}

	for i := 0; i < testMintMaxOrder; i++ {
		amount := uint64(1) << i
		hash := sha256.Sum256([]byte("test mint secret key " + strconv.FormatUint(amount, 10)))
		priv, pub := btcec.PrivKeyFromBytes(hash[:])
		tm.privKeys[amount] = priv
		tm.pubKeys[amount] = pub
	}
	tm.keysetId = crypto.DeriveKeysetId(tm.pubKeys)

	router := mux.NewRouter()
	router.HandleFunc("/v1/info", tm.getInfo).Methods(http.MethodGet)
	router.HandleFunc("/v1/keysets", tm.getKeysets).Methods(http.MethodGet)
	router.HandleFunc("/v1/keys", tm.getKeys).Methods(http.MethodGet)
	router.HandleFunc("/v1/keys/{id}", tm.getKeys).Methods(http.MethodGet)
	router.HandleFunc("/v1/mint/quote/bolt11", tm.postMintQuote).Methods(http.MethodPost)
	router.HandleFunc("/v1/mint/quote/bolt11/{id}", tm.getMintQuote).Methods(http.MethodGet)
	router.HandleFunc("/v1/mint/bolt11", tm.postMint).Methods(http.MethodPost)
	router.HandleFunc("/v1/swap", tm.postSwap).Methods(http.MethodPost)
	router.HandleFunc("/v1/melt/quote/bolt11", tm.postMeltQuote).Methods(http.MethodPost)
	router.HandleFunc("/v1/melt/quote/bolt11/{id}", tm.getMeltQuote).Methods(http.MethodGet)
	router.HandleFunc("/v1/melt/bolt11", tm.postMelt).Methods(http.MethodPost)
	router.HandleFunc("/v1/checkstate", tm.postCheckState).Methods(http.MethodPost)
	router.HandleFunc("/v1/restore", tm.postRestore).Methods(http.MethodPost)

	tm.server = httptest.NewServer(router)
	return tm
}

func (tm *testMint) URL() string { return tm.server.URL }

func (tm *testMint) Close() { tm.server.Close() }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeMintError(w http.ResponseWriter, cashuErr cashu.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(cashuErr)
}

func (tm *testMint) getInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nut06.MintInfo{
		Name: "test mint",
		Nuts: map[string]nut06.Nut{
			"7": {Supported: true},
			"9": {Supported: true},
		},
	})
}

func (tm *testMint) getKeysets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nut02.GetKeysetsResponse{Keysets: []nut02.Keyset{
		{
			Id:          tm.keysetId,
			Unit:        tm.unit.String(),
			Active:      true,
			InputFeePpk: tm.inputFeePpk,
		},
	}})
}

func (tm *testMint) getKeys(w http.ResponseWriter, r *http.Request) {
	keys := make(nut01.KeysMap, len(tm.pubKeys))
	for amount, pub := range tm.pubKeys {
		keys[amount] = hex.EncodeToString(pub.SerializeCompressed())
	}
	writeJSON(w, nut01.GetKeysResponse{Keysets: []nut01.Keyset{
		{Id: tm.keysetId, Unit: tm.unit.String(), Keys: keys},
	}})
}

func (tm *testMint) postMintQuote(w http.ResponseWriter, r *http.Request) {
	var request nut04.PostMintQuoteBolt11Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeMintError(w, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.quoteCount++
	quote := &nut04.PostMintQuoteBolt11Response{
		Quote:   fmt.Sprintf("mintquote-%d", tm.quoteCount),
		Request: fmt.Sprintf("lnbc%d...", request.Amount),
		State:   nut04.Unpaid,
	}
	if tm.autoPaid {
		quote.State = nut04.Paid
	}
	tm.mintQuotes[quote.Quote] = quote

	writeJSON(w, quote)
}

func (tm *testMint) getMintQuote(w http.ResponseWriter, r *http.Request) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	quote, ok := tm.mintQuotes[mux.Vars(r)["id"]]
	if !ok {
		writeMintError(w, cashu.Error{Detail: "quote does not exist", Code: cashu.MeltQuoteErrCode})
		return
	}
	writeJSON(w, quote)
}

func (tm *testMint) payQuote(quoteId string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if quote, ok := tm.mintQuotes[quoteId]; ok && quote.State == nut04.Unpaid {
		quote.State = nut04.Paid
	}
}

func (tm *testMint) sign(outputs cashu.BlindedMessages) (cashu.BlindedSignatures, *cashu.Error) {
	signatures := make(cashu.BlindedSignatures, len(outputs))
	for i, output := range outputs {
		key, ok := tm.privKeys[output.Amount]
		if !ok {
			return nil, &cashu.Error{Detail: "invalid amount in blinded message", Code: cashu.StandardErrCode}
		}

		B_bytes, err := hex.DecodeString(output.B_)
		if err != nil {
			return nil, &cashu.Error{Detail: "invalid B_", Code: cashu.StandardErrCode}
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			return nil, &cashu.Error{Detail: "invalid B_", Code: cashu.StandardErrCode}
		}

		C_ := crypto.SignBlindedMessage(B_, key)
		signature := cashu.BlindedSignature{
			Amount: output.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     output.Id,
		}
		signatures[i] = signature
		tm.signedByB_[output.B_] = signature
	}
	return signatures, nil
}

// verifyInputs checks the proofs verify against the mint keys and are
// not already spent. It returns their Ys.
func (tm *testMint) verifyInputs(inputs cashu.Proofs) ([]string, *cashu.Error) {
	Ys := make([]string, len(inputs))
	for i, proof := range inputs {
		key, ok := tm.privKeys[proof.Amount]
		if !ok {
			return nil, &cashu.Error{Detail: "invalid proof", Code: cashu.InvalidProofErrCode}
		}

		CBytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return nil, &cashu.Error{Detail: "invalid proof", Code: cashu.InvalidProofErrCode}
		}
		C, err := secp256k1.ParsePubKey(CBytes)
		if err != nil {
			return nil, &cashu.Error{Detail: "invalid proof", Code: cashu.InvalidProofErrCode}
		}
		if !crypto.Verify(proof.Secret, key, C) {
			return nil, &cashu.Error{Detail: "invalid proof", Code: cashu.InvalidProofErrCode}
		}

		Y, err := crypto.HashToCurveHex(proof.Secret)
		if err != nil {
			return nil, &cashu.Error{Detail: "invalid proof", Code: cashu.InvalidProofErrCode}
		}
		if tm.spentYs[Y] {
			return nil, &cashu.Error{Detail: "proof already used", Code: cashu.ProofAlreadyUsedErrCode}
		}
		Ys[i] = Y
	}
	return Ys, nil
}

func (tm *testMint) fee(inputs cashu.Proofs) uint64 {
	return (uint64(len(inputs))*uint64(tm.inputFeePpk) + 999) / 1000
}

func (tm *testMint) postMint(w http.ResponseWriter, r *http.Request) {
	var request nut04.PostMintBolt11Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeMintError(w, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	quote, ok := tm.mintQuotes[request.Quote]
	if !ok {
		writeMintError(w, cashu.Error{Detail: "quote does not exist", Code: cashu.MeltQuoteErrCode})
		return
	}
	switch quote.State {
	case nut04.Unpaid:
		writeMintError(w, cashu.Error{Detail: "quote request has not been paid", Code: cashu.MintQuoteRequestNotPaidErrCode})
		return
	case nut04.Issued:
		writeMintError(w, cashu.Error{Detail: "quote already issued", Code: cashu.MintQuoteAlreadyIssuedErrCode})
		return
	}

	signatures, cashuErr := tm.sign(request.Outputs)
	if cashuErr != nil {
		writeMintError(w, *cashuErr)
		return
	}
	quote.State = nut04.Issued

	writeJSON(w, nut04.PostMintBolt11Response{Signatures: signatures})
}

func (tm *testMint) postSwap(w http.ResponseWriter, r *http.Request) {
	var request nut03.PostSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeMintError(w, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	Ys, cashuErr := tm.verifyInputs(request.Inputs)
	if cashuErr != nil {
		writeMintError(w, *cashuErr)
		return
	}

	if request.Inputs.Amount()-tm.fee(request.Inputs) != request.Outputs.Amount() {
		writeMintError(w, cashu.Error{Detail: "amount mismatch", Code: cashu.StandardErrCode})
		return
	}

	signatures, cashuErr := tm.sign(request.Outputs)
	if cashuErr != nil {
		writeMintError(w, *cashuErr)
		return
	}
	for _, Y := range Ys {
		tm.spentYs[Y] = true
	}

	writeJSON(w, nut03.PostSwapResponse{Signatures: signatures})
}

// newMeltQuote registers a melt quote for amount with the given fee
// reserve, bypassing invoice decoding.
func (tm *testMint) newMeltQuote(amount, feeReserve uint64) string {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.quoteCount++
	quote := &nut05.PostMeltQuoteBolt11Response{
		Quote:      fmt.Sprintf("meltquote-%d", tm.quoteCount),
		Amount:     amount,
		FeeReserve: feeReserve,
		State:      nut05.Unpaid,
	}
	tm.meltQuotes[quote.Quote] = quote
	return quote.Quote
}

func (tm *testMint) postMeltQuote(w http.ResponseWriter, r *http.Request) {
	var request nut05.PostMeltQuoteBolt11Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeMintError(w, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.quoteCount++
	quote := &nut05.PostMeltQuoteBolt11Response{
		Quote:      fmt.Sprintf("meltquote-%d", tm.quoteCount),
		Amount:     21,
		FeeReserve: 2,
		State:      nut05.Unpaid,
		Request:    request.Request,
	}
	tm.meltQuotes[quote.Quote] = quote
	writeJSON(w, quote)
}

func (tm *testMint) getMeltQuote(w http.ResponseWriter, r *http.Request) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	quote, ok := tm.meltQuotes[mux.Vars(r)["id"]]
	if !ok {
		writeMintError(w, cashu.Error{Detail: "quote does not exist", Code: cashu.MeltQuoteErrCode})
		return
	}
	writeJSON(w, quote)
}

func (tm *testMint) postMelt(w http.ResponseWriter, r *http.Request) {
	var request nut05.PostMeltBolt11Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeMintError(w, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	quote, ok := tm.meltQuotes[request.Quote]
	if !ok {
		writeMintError(w, cashu.Error{Detail: "quote does not exist", Code: cashu.MeltQuoteErrCode})
		return
	}
	if quote.State == nut05.Paid {
		writeMintError(w, cashu.Error{Detail: "quote already paid", Code: cashu.MeltQuoteAlreadyPaidErrCode})
		return
	}

	Ys, cashuErr := tm.verifyInputs(request.Inputs)
	if cashuErr != nil {
		writeMintError(w, *cashuErr)
		return
	}
	if request.Inputs.Amount() < quote.Amount+quote.FeeReserve {
		writeMintError(w, cashu.Error{Detail: "insufficient inputs", Code: cashu.InsufficientProofAmountErrCode})
		return
	}

	// the "payment" succeeds immediately and costs no routing fee, so
	// the whole requested change is signed back
	signatures, cashuErr := tm.sign(request.Outputs)
	if cashuErr != nil {
		writeMintError(w, *cashuErr)
		return
	}
	for _, Y := range Ys {
		tm.spentYs[Y] = true
	}

	quote.State = nut05.Paid
	quote.Preimage = "0000000000000000000000000000000000000000000000000000000000000000"
	quote.Change = signatures

	writeJSON(w, quote)
}

func (tm *testMint) postCheckState(w http.ResponseWriter, r *http.Request) {
	var request nut07.PostCheckStateRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeMintError(w, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	states := make([]nut07.ProofState, len(request.Ys))
	for i, Y := range request.Ys {
		state := nut07.Unspent
		if tm.spentYs[Y] {
			state = nut07.Spent
		}
		states[i] = nut07.ProofState{Y: Y, State: state}
	}
	writeJSON(w, nut07.PostCheckStateResponse{States: states})
}

func (tm *testMint) postRestore(w http.ResponseWriter, r *http.Request) {
	var request nut09.PostRestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeMintError(w, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	response := nut09.PostRestoreResponse{
		Outputs:    cashu.BlindedMessages{},
		Signatures: cashu.BlindedSignatures{},
	}
	for _, output := range request.Outputs {
		if signature, ok := tm.signedByB_[output.B_]; ok {
			response.Outputs = append(response.Outputs, output)
			response.Signatures = append(response.Signatures, signature)
		}
	}
	writeJSON(w, response)
}
