package wallet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ecashkit/cashew/cashu"
	"github.com/ecashkit/cashew/cashu/nuts/nut01"
	"github.com/ecashkit/cashew/cashu/nuts/nut02"
	"github.com/ecashkit/cashew/cashu/nuts/nut03"
	"github.com/ecashkit/cashew/cashu/nuts/nut04"
	"github.com/ecashkit/cashew/cashu/nuts/nut05"
	"github.com/ecashkit/cashew/cashu/nuts/nut06"
	"github.com/ecashkit/cashew/cashu/nuts/nut07"
	"github.com/ecashkit/cashew/cashu/nuts/nut09"
)

const defaultTimeout = 30 * time.Second

// client is the typed request/reply shim over the mint's /v1 endpoints.
// Responses with status >= 400 decode to cashu.Error; transport
// failures surface as wrapped errors.
type client struct {
	mintURL string
	http    *http.Client
}

func newClient(mintURL string, timeout time.Duration) *client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &client{
		mintURL: mintURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *client) GetMintInfo() (*nut06.MintInfo, error) {
	var mintInfo nut06.MintInfo
	if err := c.get("/v1/info", &mintInfo); err != nil {
		return nil, err
	}
	return &mintInfo, nil
}

func (c *client) GetActiveKeysets() (*nut01.GetKeysResponse, error) {
	var keysetRes nut01.GetKeysResponse
	if err := c.get("/v1/keys", &keysetRes); err != nil {
		return nil, err
	}
	return &keysetRes, nil
}

func (c *client) GetAllKeysets() (*nut02.GetKeysetsResponse, error) {
	var keysetsRes nut02.GetKeysetsResponse
	if err := c.get("/v1/keysets", &keysetsRes); err != nil {
		return nil, err
	}
	return &keysetsRes, nil
}

func (c *client) GetKeysetById(id string) (*nut01.GetKeysResponse, error) {
	var keysetRes nut01.GetKeysResponse
	if err := c.get("/v1/keys/"+id, &keysetRes); err != nil {
		return nil, err
	}
	return &keysetRes, nil
}

func (c *client) PostMintQuoteBolt11(mintQuoteRequest nut04.PostMintQuoteBolt11Request) (
	*nut04.PostMintQuoteBolt11Response, error) {
	var reqMintResponse nut04.PostMintQuoteBolt11Response
	if err := c.post("/v1/mint/quote/bolt11", mintQuoteRequest, &reqMintResponse); err != nil {
		return nil, err
	}
	return &reqMintResponse, nil
}

func (c *client) GetMintQuoteState(quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	var mintQuoteResponse nut04.PostMintQuoteBolt11Response
	if err := c.get("/v1/mint/quote/bolt11/"+quoteId, &mintQuoteResponse); err != nil {
		return nil, err
	}
	return &mintQuoteResponse, nil
}

func (c *client) PostMintBolt11(mintRequest nut04.PostMintBolt11Request) (
	*nut04.PostMintBolt11Response, error) {
	var mintResponse nut04.PostMintBolt11Response
	if err := c.post("/v1/mint/bolt11", mintRequest, &mintResponse); err != nil {
		return nil, err
	}
	return &mintResponse, nil
}

func (c *client) PostSwap(swapRequest nut03.PostSwapRequest) (*nut03.PostSwapResponse, error) {
	var swapResponse nut03.PostSwapResponse
	if err := c.post("/v1/swap", swapRequest, &swapResponse); err != nil {
		return nil, err
	}
	return &swapResponse, nil
}

func (c *client) PostMeltQuoteBolt11(meltQuoteRequest nut05.PostMeltQuoteBolt11Request) (
	*nut05.PostMeltQuoteBolt11Response, error) {
	var meltQuoteResponse nut05.PostMeltQuoteBolt11Response
	if err := c.post("/v1/melt/quote/bolt11", meltQuoteRequest, &meltQuoteResponse); err != nil {
		return nil, err
	}
	return &meltQuoteResponse, nil
}

func (c *client) GetMeltQuoteState(quoteId string) (*nut05.PostMeltQuoteBolt11Response, error) {
	var meltQuoteResponse nut05.PostMeltQuoteBolt11Response
	if err := c.get("/v1/melt/quote/bolt11/"+quoteId, &meltQuoteResponse); err != nil {
		return nil, err
	}
	return &meltQuoteResponse, nil
}

func (c *client) PostMeltBolt11(meltRequest nut05.PostMeltBolt11Request) (
	*nut05.PostMeltQuoteBolt11Response, error) {
	var meltResponse nut05.PostMeltQuoteBolt11Response
	if err := c.post("/v1/melt/bolt11", meltRequest, &meltResponse); err != nil {
		return nil, err
	}
	return &meltResponse, nil
}

func (c *client) PostCheckProofState(stateRequest nut07.PostCheckStateRequest) (
	*nut07.PostCheckStateResponse, error) {
	var stateResponse nut07.PostCheckStateResponse
	if err := c.post("/v1/checkstate", stateRequest, &stateResponse); err != nil {
		return nil, err
	}
	return &stateResponse, nil
}

func (c *client) PostRestore(restoreRequest nut09.PostRestoreRequest) (
	*nut09.PostRestoreResponse, error) {
	var restoreResponse nut09.PostRestoreResponse
	if err := c.post("/v1/restore", restoreRequest, &restoreResponse); err != nil {
		return nil, err
	}
	return &restoreResponse, nil
}

func (c *client) get(path string, response any) error {
	resp, err := c.http.Get(c.mintURL + path)
	if err != nil {
		return fmt.Errorf("error communicating with mint: %w", err)
	}
	defer resp.Body.Close()

	return parse(resp, response)
}

func (c *client) post(path string, request, response any) error {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := c.http.Post(c.mintURL+path, "application/json", bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("error communicating with mint: %w", err)
	}
	defer resp.Body.Close()

	return parse(resp, response)
}

func parse(resp *http.Response, response any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResponse cashu.Error
		if err := json.Unmarshal(body, &errResponse); err != nil {
			return fmt.Errorf("mint returned status %v: %s", resp.StatusCode, body)
		}
		return errResponse
	}

	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("error reading response from mint: %v", err)
	}

	return nil
}
