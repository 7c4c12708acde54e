package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ecashkit/cashew/cashu/nuts/nut05"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

var (
	ErrLightningAddressInvalid = errors.New("invalid lightning address")
	ErrLnurlResolutionFailed   = errors.New("could not resolve lightning address")
	ErrAmountBelowMin          = errors.New("amount below minimum the receiver accepts")
	ErrAmountAboveMax          = errors.New("amount above maximum the receiver accepts")
	ErrInvoiceFetchFailed      = errors.New("could not fetch invoice")
)

// LNURLPayParams is the lnurlp metadata served at
// https://<domain>/.well-known/lnurlp/<user>.
type LNURLPayParams struct {
	Callback       string `json:"callback"`
	MinSendable    uint64 `json:"minSendable"`
	MaxSendable    uint64 `json:"maxSendable"`
	CommentAllowed int    `json:"commentAllowed"`
	Tag            string `json:"tag"`
}

var lnurlClient = &http.Client{Timeout: 15 * time.Second}

// ResolveLightningAddress resolves user@domain to its lnurl-pay
// parameters.
func ResolveLightningAddress(address string) (*LNURLPayParams, error) {
	user, domain, ok := strings.Cut(address, "@")
	if !ok || user == "" || domain == "" || strings.ContainsAny(domain, "/ ") {
		return nil, ErrLightningAddressInvalid
	}

	resp, err := lnurlClient.Get(fmt.Sprintf("https://%s/.well-known/lnurlp/%s", domain, user))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLnurlResolutionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %v", ErrLnurlResolutionFailed, resp.StatusCode)
	}

	var params LNURLPayParams
	if err := json.NewDecoder(resp.Body).Decode(&params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLnurlResolutionFailed, err)
	}
	if params.Callback == "" || params.MinSendable == 0 || params.MaxSendable == 0 {
		return nil, fmt.Errorf("%w: incomplete lnurlp response", ErrLnurlResolutionFailed)
	}

	return &params, nil
}

// FetchInvoice requests a bolt11 invoice for amountMsat from the
// lnurl callback and checks the invoice actually carries that amount.
func (params *LNURLPayParams) FetchInvoice(amountMsat uint64, comment string) (string, error) {
	if amountMsat < params.MinSendable {
		return "", fmt.Errorf("%w: min is %v msat", ErrAmountBelowMin, params.MinSendable)
	}
	if amountMsat > params.MaxSendable {
		return "", fmt.Errorf("%w: max is %v msat", ErrAmountAboveMax, params.MaxSendable)
	}

	callback, err := url.Parse(params.Callback)
	if err != nil {
		return "", fmt.Errorf("%w: invalid callback url", ErrInvoiceFetchFailed)
	}
	query := callback.Query()
	query.Set("amount", fmt.Sprintf("%d", amountMsat))
	if comment != "" && params.CommentAllowed > 0 && len(comment) <= params.CommentAllowed {
		query.Set("comment", comment)
	}
	callback.RawQuery = query.Encode()

	resp, err := lnurlClient.Get(callback.String())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvoiceFetchFailed, err)
	}
	defer resp.Body.Close()

	var invoiceResponse struct {
		Pr     string `json:"pr"`
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&invoiceResponse); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvoiceFetchFailed, err)
	}
	if invoiceResponse.Status == "ERROR" || invoiceResponse.Pr == "" {
		return "", fmt.Errorf("%w: %v", ErrInvoiceFetchFailed, invoiceResponse.Reason)
	}

	bolt11, err := decodepay.Decodepay(invoiceResponse.Pr)
	if err != nil {
		return "", fmt.Errorf("%w: invalid invoice: %v", ErrInvoiceFetchFailed, err)
	}
	if uint64(bolt11.MSatoshi) != amountMsat {
		return "", fmt.Errorf("%w: invoice is for %v msat, requested %v", ErrInvoiceFetchFailed, bolt11.MSatoshi, amountMsat)
	}

	return invoiceResponse.Pr, nil
}

// RequestMeltQuoteToLightningAddress resolves address, fetches an
// invoice for amountSat and requests a melt quote for it.
func (w *Wallet) RequestMeltQuoteToLightningAddress(address string, amountSat uint64, comment string) (
	*nut05.PostMeltQuoteBolt11Response, error) {

	params, err := ResolveLightningAddress(address)
	if err != nil {
		return nil, err
	}

	invoice, err := params.FetchInvoice(amountSat*1000, comment)
	if err != nil {
		return nil, err
	}
	return w.RequestMeltQuote(invoice)
}
