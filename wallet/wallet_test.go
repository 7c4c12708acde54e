package wallet

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ecashkit/cashew/cashu"
	"github.com/ecashkit/cashew/cashu/nuts/nut07"
	"github.com/ecashkit/cashew/wallet/storage"
)

const (
	testMnemonic = "half depart obvious quality work element tank gorilla view sugar picture humble"
	// a second seed for wallets playing the receiving side
	receiverMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
)

func testWallet(t *testing.T, tm *testMint) *Wallet {
	return testWalletWithMnemonic(t, tm, testMnemonic)
}

func testWalletWithMnemonic(t *testing.T, tm *testMint, mnemonic string) *Wallet {
	t.Helper()

	db, err := storage.InitBolt(filepath.Join(t.TempDir(), "wallet.db"), "unbound")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	w, err := LoadWallet(Config{
		CurrentMintURL: tm.URL(),
		Unit:           cashu.Sat,
		DB:             db,
	})
	if err != nil {
		t.Fatalf("LoadWallet: %v", err)
	}

	if err := w.InitFromMnemonic(mnemonic, ""); err != nil {
		t.Fatalf("InitFromMnemonic: %v", err)
	}
	return w
}

func mintProofs(t *testing.T, w *Wallet, amount uint64) cashu.Proofs {
	t.Helper()

	quote, err := w.RequestMintQuote(amount)
	if err != nil {
		t.Fatalf("RequestMintQuote: %v", err)
	}
	proofs, err := w.Mint(quote.Quote, amount)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return proofs
}

func TestMintFlow(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()
	w := testWallet(t, tm)

	proofs := mintProofs(t, w, 100)

	if proofs.Amount() != 100 {
		t.Errorf("expected minted amount 100, got %v", proofs.Amount())
	}
	// 100 = 4 + 32 + 64
	if len(proofs) != 3 {
		t.Errorf("expected 3 proofs, got %v", len(proofs))
	}
	if w.Balance() != 100 {
		t.Errorf("expected balance 100, got %v", w.Balance())
	}
	if counter := w.db.KeysetCounter(tm.keysetId); counter != 3 {
		t.Errorf("expected counter 3 after minting 3 outputs, got %v", counter)
	}
}

func TestMintQuoteNotPaid(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()
	tm.autoPaid = false
	w := testWallet(t, tm)

	quote, err := w.RequestMintQuote(16)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := w.Mint(quote.Quote, 16); !errors.Is(err, ErrQuoteNotPaid) {
		t.Fatalf("expected ErrQuoteNotPaid, got %v", err)
	}
	// failed precondition must not burn counters
	if counter := w.db.KeysetCounter(tm.keysetId); counter != 0 {
		t.Errorf("expected counter 0, got %v", counter)
	}

	tm.payQuote(quote.Quote)
	if _, err := w.Mint(quote.Quote, 16); err != nil {
		t.Fatalf("Mint after payment: %v", err)
	}
	if w.Balance() != 16 {
		t.Errorf("expected balance 16, got %v", w.Balance())
	}
}

func TestSafeStateGate(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()

	// no storage, no seed
	w, err := LoadWallet(Config{CurrentMintURL: tm.URL(), Unit: cashu.Sat})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := w.Mint("whatever", 4); !errors.Is(err, ErrNoSeed) {
		t.Fatalf("expected ErrNoSeed, got %v", err)
	}

	if _, err := w.GenerateMnemonic(); !errors.Is(err, ErrStorageRequired) {
		t.Fatalf("expected ErrStorageRequired, got %v", err)
	}

	// seed without storage refuses to derive outputs
	if err := w.InitFromMnemonic(testMnemonic, ""); err != nil {
		t.Fatal(err)
	}
	quote, err := w.RequestMintQuote(4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Mint(quote.Quote, 4); !errors.Is(err, ErrUnsafeState) {
		t.Fatalf("expected ErrUnsafeState, got %v", err)
	}
}

func TestInvalidMnemonic(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()
	w := testWallet(t, tm)

	if err := w.InitFromMnemonic("not a valid mnemonic phrase", ""); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
}

func TestNoActiveKeysetForUnit(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()

	_, err := LoadWallet(Config{CurrentMintURL: tm.URL(), Unit: cashu.Usd})
	var noKeyset NoActiveKeysetErr
	if !errors.As(err, &noKeyset) {
		t.Fatalf("expected NoActiveKeysetErr, got %v", err)
	}
	if noKeyset.Unit != "usd" {
		t.Errorf("expected unit 'usd' in error, got '%v'", noKeyset.Unit)
	}
}

func TestSend(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()
	w := testWallet(t, tm)

	mintProofs(t, w, 64)

	send, err := w.Send(21)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if send.Amount() != 21 {
		t.Errorf("expected send amount 21, got %v", send.Amount())
	}

	if w.Balance() != 43 {
		t.Errorf("expected balance 43 after sending 21, got %v", w.Balance())
	}
	if w.PendingBalance() != 21 {
		t.Errorf("expected pending balance 21, got %v", w.PendingBalance())
	}

	if _, err := w.Send(1000); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestReceive(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()
	sender := testWallet(t, tm)
	receiver := testWalletWithMnemonic(t, tm, receiverMnemonic)

	mintProofs(t, sender, 32)
	send, err := sender.Send(10)
	if err != nil {
		t.Fatal(err)
	}

	token, err := cashu.NewTokenV4(send, sender.CurrentMint(), cashu.Sat, true)
	if err != nil {
		t.Fatal(err)
	}
	tokenString, err := token.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	received, err := receiver.Receive(tokenString)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if received.Amount() != 10 {
		t.Errorf("expected received amount 10, got %v", received.Amount())
	}
	if receiver.Balance() != 10 {
		t.Errorf("expected receiver balance 10, got %v", receiver.Balance())
	}

	// the sender's handed out proofs are now spent at the mint
	if err := sender.SyncProofStates(); err != nil {
		t.Fatal(err)
	}
	if sender.PendingBalance() != 0 {
		t.Errorf("expected sender pending balance 0 after receiver redeemed, got %v", sender.PendingBalance())
	}

	// receiving the same token twice fails at the mint
	if _, err := receiver.Receive(tokenString); err == nil {
		t.Fatal("expected error receiving an already redeemed token")
	}
}

func TestReceiveWrongMint(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()
	other := newTestMint(0)
	defer other.Close()

	w := testWallet(t, tm)
	foreign := testWallet(t, other)

	mintProofs(t, foreign, 8)
	send, err := foreign.Send(8)
	if err != nil {
		t.Fatal(err)
	}
	token, err := cashu.NewTokenV4(send, foreign.CurrentMint(), cashu.Sat, false)
	if err != nil {
		t.Fatal(err)
	}
	tokenString, err := token.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	counterBefore := w.db.KeysetCounter(tm.keysetId)
	_, err = w.Receive(tokenString)
	var wrongMint WrongMintErr
	if !errors.As(err, &wrongMint) {
		t.Fatalf("expected WrongMintErr, got %v", err)
	}

	// no counter advanced, no proof written
	if counter := w.db.KeysetCounter(tm.keysetId); counter != counterBefore {
		t.Errorf("counter advanced on rejected receive: %v -> %v", counterBefore, counter)
	}
	if w.Balance() != 0 {
		t.Errorf("proofs written on rejected receive, balance %v", w.Balance())
	}
}

func TestSwapAmountMismatch(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()
	w := testWallet(t, tm)

	proofs := mintProofs(t, w, 16)

	if _, err := w.Swap(proofs, []uint64{1, 2}); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
}

func TestSwapMarksInputsSpent(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()
	w := testWallet(t, tm)

	proofs := mintProofs(t, w, 8)

	swapped, err := w.Swap(proofs, []uint64{2, 2, 4})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if swapped.Amount() != 8 {
		t.Errorf("expected swapped amount 8, got %v", swapped.Amount())
	}

	if w.Balance() != 8 {
		t.Errorf("expected balance 8, got %v", w.Balance())
	}
	spent := w.db.GetProofsByState(nut07.Spent)
	if len(spent) != len(proofs) {
		t.Errorf("expected %v spent inputs, got %v", len(proofs), len(spent))
	}
}

func TestMelt(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()
	w := testWallet(t, tm)

	mintProofs(t, w, 64)

	// quote for 21 sat with a fee reserve of 2
	quoteId := tm.newMeltQuote(21, 2)

	inputs, _, err := w.selectProofsToSend(23)
	if err != nil {
		t.Fatal(err)
	}

	result, err := w.Melt(quoteId, inputs)
	if err != nil {
		t.Fatalf("Melt: %v", err)
	}
	if !result.Paid {
		t.Fatal("expected melt to be paid")
	}
	if result.Preimage == "" {
		t.Error("expected payment preimage")
	}

	// change for the overshoot beyond amount plus fee reserve comes back
	expectedChange := inputs.Amount() - 23
	if result.Change.Amount() != expectedChange {
		t.Errorf("expected change %v, got %v", expectedChange, result.Change.Amount())
	}
	if w.Balance() != 64-21-2 {
		t.Errorf("expected balance %v, got %v", 64-21-2, w.Balance())
	}
}

func TestMeltInsufficientBalance(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()
	w := testWallet(t, tm)

	proofs := mintProofs(t, w, 4)
	quoteId := tm.newMeltQuote(100, 2)

	if _, err := w.Melt(quoteId, proofs); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestFees(t *testing.T) {
	tm := newTestMint(200)
	defer tm.Close()
	w := testWallet(t, tm)

	proofs := mintProofs(t, w, 31) // 5 proofs: 1+2+4+8+16

	fee, err := w.fees(proofs)
	if err != nil {
		t.Fatal(err)
	}
	// ceil(5 * 200 / 1000) = 1
	if fee != 1 {
		t.Errorf("expected fee 1, got %v", fee)
	}

	fee, err = w.fees(proofs[:1])
	if err != nil {
		t.Fatal(err)
	}
	// ceil(200 / 1000) = 1
	if fee != 1 {
		t.Errorf("expected fee 1, got %v", fee)
	}

	// sending through a fee charging mint nets amount minus fees
	send, err := w.Send(10)
	if err != nil {
		t.Fatal(err)
	}
	if send.Amount() != 10 {
		t.Errorf("expected send amount 10, got %v", send.Amount())
	}
}

// crash between "mint returned signatures" and "caller observed them":
// the proofs are already persisted, tagged with the quote id.
func TestCrashRecoveryByQuote(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()
	w := testWallet(t, tm)

	quote, err := w.RequestMintQuote(100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Mint(quote.Quote, 100); err != nil {
		t.Fatal(err)
	}

	// "next run": the caller lost the Mint return value
	recovered := w.GetProofsByQuoteId(quote.Quote)
	if recovered.Amount() != 100 {
		t.Fatalf("expected to recover 100 from quote id, got %v", recovered.Amount())
	}

	// retrying the mint is unnecessary and rejected
	if _, err := w.Mint(quote.Quote, 100); err == nil {
		t.Fatal("expected error minting an already issued quote")
	}
}

// restore from seed only: proofs come back and the counter lands past
// the last used value, so the next mint cannot reuse counters.
func TestRestore(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()

	w := testWallet(t, tm)
	mintProofs(t, w, 100) // counters 0, 1, 2

	// fresh wallet, same seed, no persisted state
	restoredWallet := testWallet(t, tm)
	if restoredWallet.Balance() != 0 {
		t.Fatal("fresh wallet should start empty")
	}

	restored, err := restoredWallet.Restore(DefaultRestoreOptions())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if len(restored) != 3 {
		t.Errorf("expected 3 restored proofs, got %v", len(restored))
	}
	if restored.Amount() != 100 {
		t.Errorf("expected restored amount 100, got %v", restored.Amount())
	}
	if restoredWallet.Balance() != 100 {
		t.Errorf("expected balance 100 after restore, got %v", restoredWallet.Balance())
	}

	if counter := restoredWallet.db.KeysetCounter(tm.keysetId); counter != 3 {
		t.Errorf("expected counter 3 after restore, got %v", counter)
	}

	// the next mint continues from counter 3
	mintProofs(t, restoredWallet, 8)
	if counter := restoredWallet.db.KeysetCounter(tm.keysetId); counter != 4 {
		t.Errorf("expected counter 4 after minting one more output, got %v", counter)
	}
}

func TestRestoreSkipsSpentProofs(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()

	w := testWallet(t, tm)
	proofs := mintProofs(t, w, 8)

	// spend everything
	if _, err := w.Swap(proofs, []uint64{8}); err != nil {
		t.Fatal(err)
	}

	restoredWallet := testWallet(t, tm)
	restored, err := restoredWallet.Restore(DefaultRestoreOptions())
	if err != nil {
		t.Fatal(err)
	}

	// the original mint output is spent, only the swap output survives
	if restored.Amount() != 8 {
		t.Errorf("expected restored amount 8, got %v", restored.Amount())
	}
	for _, proof := range restored {
		if proof.Amount != 8 {
			t.Errorf("restored a spent proof of amount %v", proof.Amount)
		}
	}
}

func TestReclaimPendingProofs(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()
	w := testWallet(t, tm)

	mintProofs(t, w, 32)
	send, err := w.Send(8)
	if err != nil {
		t.Fatal(err)
	}
	if send.Amount() != 8 {
		t.Fatalf("expected send amount 8, got %v", send.Amount())
	}
	if w.PendingBalance() != 8 {
		t.Fatalf("expected pending balance 8, got %v", w.PendingBalance())
	}

	// the receiver never redeemed, reclaim swaps them back
	reclaimed, err := w.ReclaimPendingProofs()
	if err != nil {
		t.Fatalf("ReclaimPendingProofs: %v", err)
	}
	if reclaimed.Amount() != 8 {
		t.Errorf("expected reclaimed amount 8, got %v", reclaimed.Amount())
	}
	if w.PendingBalance() != 0 {
		t.Errorf("expected pending balance 0 after reclaim, got %v", w.PendingBalance())
	}
	if w.Balance() != 32 {
		t.Errorf("expected balance 32 after reclaim, got %v", w.Balance())
	}
}

func TestBalanceByUnitIsolation(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()

	id1 := storage.WalletId(tm.URL(), cashu.Sat)
	id2 := storage.WalletId(tm.URL(), cashu.Usd)
	if id1 == id2 {
		t.Fatal("different units must map to different wallet ids")
	}
}
