package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/alphabill-org/ledgercore/internal/chain"
	"github.com/alphabill-org/ledgercore/internal/consensus"
	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/metrics"
	"github.com/alphabill-org/ledgercore/internal/node"
	"github.com/alphabill-org/ledgercore/internal/txpool"
	"github.com/alphabill-org/ledgercore/internal/types"
)

const (
	pathTransactions  = "/transactions"
	pathBlocks        = "/blocks"
	pathBlockByHash   = "/blocks/{hash}"
	pathBlockByHeight = "/blocks/height/{height}"
	pathTip           = "/tip"
	pathAccount       = "/accounts/{address}"
)

var (
	mTxReceived    = metrics.GetOrRegisterCounter("transactions/rest/received")
	mTxInvalid     = metrics.GetOrRegisterCounter("transactions/rest/invalid")
	mBlockReceived = metrics.GetOrRegisterCounter("blocks/rest/received")
)

type (
	// ledgerNode is the query and submission surface of node.Node.
	ledgerNode interface {
		ReceiveTransaction(ctx context.Context, data []byte) (crypto.Hash, error)
		ReceiveBlock(ctx context.Context, data []byte) (*consensus.Result, error)
		GetAccount(addr types.Address) (balance, nextNonce uint64)
		GetBlock(hash crypto.Hash) (*types.Block, error)
		GetBlockByHeight(height uint64) (*types.Block, error)
		GetTip() *chain.Node
	}

	TxResponse struct {
		TxHash string `json:"txHash"`
	}

	BlockResponse struct {
		Hash    string `json:"hash"`
		Outcome string `json:"outcome"`
		Error   string `json:"error,omitempty"`
		Reason  string `json:"reason,omitempty"`
	}

	AccountResponse struct {
		Address   string `json:"address"`
		Balance   uint64 `json:"balance,string"`
		NextNonce uint64 `json:"nextNonce,string"`
	}

	TipResponse struct {
		Hash   string `json:"hash"`
		Height uint64 `json:"height,string"`
		Weight string `json:"weight"`
	}

	ErrorResponse struct {
		Error  string `json:"error"`
		Reason string `json:"reason,omitempty"`
	}
)

func NodeEndpoints(n ledgerNode) RegistrarFunc {
	return func(r *mux.Router) {
		// transactions and blocks are posted in canonical CBOR encoding
		r.HandleFunc(pathTransactions, submitTransaction(n)).Methods(http.MethodPost, http.MethodOptions)
		r.HandleFunc(pathBlocks, submitBlock(n)).Methods(http.MethodPost, http.MethodOptions)

		r.HandleFunc(pathBlockByHeight, getBlockByHeight(n)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc(pathBlockByHash, getBlock(n)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc(pathTip, getTip(n)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc(pathAccount, getAccount(n)).Methods(http.MethodGet, http.MethodOptions)
	}
}

func submitTransaction(n ledgerNode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mTxReceived.Inc(1)
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(r.Body); err != nil {
			mTxInvalid.Inc(1)
			writeError(w, fmt.Errorf("reading request body failed: %w", err), http.StatusBadRequest)
			return
		}
		id, err := n.ReceiveTransaction(r.Context(), buf.Bytes())
		if err != nil {
			mTxInvalid.Inc(1)
			writeError(w, err, errorStatus(err))
			return
		}
		writeJSON(w, &TxResponse{TxHash: id.String()}, http.StatusAccepted)
	}
}

func submitBlock(n ledgerNode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mBlockReceived.Inc(1)
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(r.Body); err != nil {
			writeError(w, fmt.Errorf("reading request body failed: %w", err), http.StatusBadRequest)
			return
		}
		res, err := n.ReceiveBlock(r.Context(), buf.Bytes())
		if res == nil {
			writeError(w, err, errorStatus(err))
			return
		}
		rsp := &BlockResponse{Hash: res.Hash.String(), Outcome: res.Outcome.String()}
		if res.Err != nil {
			rsp.Error = res.Err.Error()
			rsp.Reason = consensus.Reason(res.Err)
		}
		status := http.StatusAccepted
		if err != nil {
			status = errorStatus(err)
		}
		writeJSON(w, rsp, status)
	}
}

func getBlock(n ledgerNode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash, err := crypto.HashFromString(mux.Vars(r)["hash"])
		if err != nil {
			writeError(w, fmt.Errorf("invalid block hash: %w", err), http.StatusBadRequest)
			return
		}
		b, err := n.GetBlock(hash)
		if err != nil {
			writeError(w, err, errorStatus(err))
			return
		}
		writeBlock(w, b)
	}
}

func getBlockByHeight(n ledgerNode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("invalid block height: %w", err), http.StatusBadRequest)
			return
		}
		b, err := n.GetBlockByHeight(height)
		if err != nil {
			writeError(w, err, errorStatus(err))
			return
		}
		writeBlock(w, b)
	}
}

func getTip(n ledgerNode) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		tip := n.GetTip()
		writeJSON(w, &TipResponse{Hash: tip.Hash.String(), Height: tip.Height, Weight: tip.Weight.ToBig().String()}, http.StatusOK)
	}
}

func getAccount(n ledgerNode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := types.AddressFromString(mux.Vars(r)["address"])
		if err != nil {
			writeError(w, fmt.Errorf("invalid address: %w", err), http.StatusBadRequest)
			return
		}
		balance, nonce := n.GetAccount(addr)
		writeJSON(w, &AccountResponse{Address: addr.String(), Balance: balance, NextNonce: nonce}, http.StatusOK)
	}
}

// errorStatus maps the error classes of the node to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, node.ErrBlockNotFound):
		return http.StatusNotFound
	case errors.Is(err, txpool.ErrTxInPool):
		return http.StatusConflict
	case errors.Is(err, txpool.ErrTxPoolFull):
		return http.StatusServiceUnavailable
	}
	switch consensus.Classify(err) {
	case consensus.Structural, consensus.Apply, consensus.ConsensusRule:
		return http.StatusBadRequest
	case consensus.Fatal:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

func writeBlock(w http.ResponseWriter, b *types.Block) {
	data, err := b.Bytes()
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set(headerContentType, applicationCBOR)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Warning("failed to write block: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, response any, statusCode int) {
	w.Header().Set(headerContentType, applicationJson)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Warning("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, e error, statusCode int) {
	writeJSON(w, &ErrorResponse{Error: e.Error(), Reason: consensus.Reason(e)}, statusCode)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, errors.New("404 not found"), http.StatusNotFound)
}
