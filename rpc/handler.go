package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/indexer"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	chain   *core.Chain
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, chain *core.Chain, idx *indexer.Indexer, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, chain: chain, indexer: idx, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getBlock":
		return h.getBlock(req)

	case "getAccount":
		return h.getAccount(req)

	case "getBalance":
		return h.getBalance(req)

	case "getAsset":
		return h.getAsset(req)

	case "getWitness":
		return h.getWitness(req)

	case "getDelegate":
		return h.getDelegate(req)

	case "getProposal":
		return h.getProposal(req)

	case "getGlobalProperty":
		return h.getGlobalProperty(req)

	case "getAssetsByAccount":
		return h.getAssetsByAccount(req)

	case "getFillsByOrder":
		return h.getFillsByOrder(req)

	case "sendTx":
		return h.sendTx(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var block *core.Block
	var err error
	switch {
	case params.Hash != "":
		block, err = h.bc.GetBlock(params.Hash)
	case params.Height != nil:
		block, err = h.bc.GetBlockByHeight(*params.Height)
	default:
		block = h.bc.Tip()
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if block == nil {
		return errResponse(req.ID, CodeInternalError, "no block found")
	}
	return okResponse(req.ID, block)
}

// parseObjID decodes the "space.type.instance" textual form RPC clients see
// everywhere object ids appear (see core/objdb/id.go).
func parseObjID(req Request, raw string) (objdb.ID, *Response) {
	id, err := objdb.Parse(raw)
	if err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, err.Error())
		return objdb.ID{}, &resp
	}
	return id, nil
}

func (h *Handler) getAccount(req Request) Response {
	var params struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}

	if params.Name != "" {
		acc, ok := h.chain.AccountByName(params.Name)
		if !ok {
			return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("account %q not found", params.Name))
		}
		return okResponse(req.ID, acc)
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id or name is required")
	}
	id, errResp := parseObjID(req, params.ID)
	if errResp != nil {
		return *errResp
	}
	obj, ok := h.chain.Accounts.Get(id)
	if !ok {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("account %s not found", params.ID))
	}
	return okResponse(req.ID, obj)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Account == "" {
		return errResponse(req.ID, CodeInvalidParams, "account is required")
	}
	id, errResp := parseObjID(req, params.Account)
	if errResp != nil {
		return *errResp
	}
	obj, ok := h.chain.Accounts.Get(id)
	if !ok {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("account %s not found", params.Account))
	}
	bal := h.chain.BalanceOf(obj.(*core.Account))
	if bal == nil {
		return errResponse(req.ID, CodeInternalError, "account has no balance object")
	}
	return okResponse(req.ID, bal)
}

func (h *Handler) getAsset(req Request) Response {
	var params struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Symbol != "" {
		asset, ok := h.chain.AssetBySymbol(params.Symbol)
		if !ok {
			return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("asset %q not found", params.Symbol))
		}
		return okResponse(req.ID, asset)
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id or symbol is required")
	}
	id, errResp := parseObjID(req, params.ID)
	if errResp != nil {
		return *errResp
	}
	asset, ok := h.chain.Assets.Get(id)
	if !ok {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("asset %s not found", params.ID))
	}
	return okResponse(req.ID, asset)
}

func (h *Handler) getWitness(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	id, errResp := parseObjID(req, params.ID)
	if errResp != nil {
		return *errResp
	}
	witness, ok := h.chain.Witnesses.Get(id)
	if !ok {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("witness %s not found", params.ID))
	}
	return okResponse(req.ID, witness)
}

func (h *Handler) getDelegate(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	id, errResp := parseObjID(req, params.ID)
	if errResp != nil {
		return *errResp
	}
	delegate, ok := h.chain.Delegates.Get(id)
	if !ok {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("delegate %s not found", params.ID))
	}
	return okResponse(req.ID, delegate)
}

func (h *Handler) getProposal(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	id, errResp := parseObjID(req, params.ID)
	if errResp != nil {
		return *errResp
	}
	proposal, ok := h.chain.Proposals.Get(id)
	if !ok {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("proposal %s not found", params.ID))
	}
	return okResponse(req.ID, proposal)
}

func (h *Handler) getGlobalProperty(req Request) Response {
	global := h.chain.Global()
	if global == nil {
		return errResponse(req.ID, CodeInternalError, "global properties not initialized")
	}
	return okResponse(req.ID, global)
}

func (h *Handler) getAssetsByAccount(req Request) Response {
	var params struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Account == "" {
		return errResponse(req.ID, CodeInvalidParams, "account is required")
	}
	ids, err := h.indexer.GetAssetsByAccount(params.Account)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getFillsByOrder(req Request) Response {
	var params struct {
		Order string `json:"order"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Order == "" {
		return errResponse(req.ID, CodeInvalidParams, "order is required")
	}
	fills, err := h.indexer.GetFillsByOrder(params.Order)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, fills)
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Digest()
	tip := h.bc.Tip()
	var headTime int64
	if tip != nil {
		headTime = tip.Header.Timestamp
	}
	if err := h.mempool.Add(&tx, headTime); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}
