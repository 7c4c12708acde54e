package wallet

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveLightningAddressInvalid(t *testing.T) {
	invalid := []string{
		"",
		"nodomain",
		"@domain.com",
		"user@",
		"user@bad domain.com",
		"user@domain.com/path",
	}

	for _, address := range invalid {
		if _, err := ResolveLightningAddress(address); !errors.Is(err, ErrLightningAddressInvalid) {
			t.Errorf("expected ErrLightningAddressInvalid for '%v', got %v", address, err)
		}
	}
}

func TestFetchInvoiceAmountBounds(t *testing.T) {
	params := LNURLPayParams{
		Callback:    "https://pay.example/callback",
		MinSendable: 1000,
		MaxSendable: 100000000,
	}

	if _, err := params.FetchInvoice(999, ""); !errors.Is(err, ErrAmountBelowMin) {
		t.Errorf("expected ErrAmountBelowMin, got %v", err)
	}
	if _, err := params.FetchInvoice(100000001, ""); !errors.Is(err, ErrAmountAboveMax) {
		t.Errorf("expected ErrAmountAboveMax, got %v", err)
	}
}

func TestFetchInvoiceCallbackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("amount") == "" {
			t.Error("callback was not called with an amount")
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ERROR",
			"reason": "no route",
		})
	}))
	defer server.Close()

	params := LNURLPayParams{
		Callback:    server.URL + "/callback",
		MinSendable: 1000,
		MaxSendable: 100000000,
	}

	if _, err := params.FetchInvoice(21000, ""); !errors.Is(err, ErrInvoiceFetchFailed) {
		t.Errorf("expected ErrInvoiceFetchFailed, got %v", err)
	}
}

func TestFetchInvoiceComment(t *testing.T) {
	var gotComment string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotComment = r.URL.Query().Get("comment")
		// an empty pr is rejected before any invoice decoding
		json.NewEncoder(w).Encode(map[string]string{"pr": ""})
	}))
	defer server.Close()

	params := LNURLPayParams{
		Callback:       server.URL + "/callback",
		MinSendable:    1000,
		MaxSendable:    100000000,
		CommentAllowed: 32,
	}

	params.FetchInvoice(21000, "thanks for the coffee")
	if gotComment != "thanks for the coffee" {
		t.Errorf("expected comment to be forwarded, got '%v'", gotComment)
	}

	// comments longer than the receiver allows are dropped
	params.CommentAllowed = 5
	params.FetchInvoice(21000, "thanks for the coffee")
	if gotComment != "" {
		t.Errorf("expected over long comment to be dropped, got '%v'", gotComment)
	}
}

func TestRequestMeltQuoteInvalidInvoice(t *testing.T) {
	tm := newTestMint(0)
	defer tm.Close()
	w := testWallet(t, tm)

	if _, err := w.RequestMeltQuote("not an invoice"); err == nil {
		t.Fatal("expected error for undecodable invoice")
	}
}
