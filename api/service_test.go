// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/abciapp/metrics"
	"github.com/luxfi/abciapp/state"
)

const testChainID = "testchain-1"

func newTestHandler(t *testing.T) (http.Handler, *state.State) {
	t.Helper()
	require := require.New(t)

	logger := log.NewNoOpLogger()
	st := state.New(memdb.New(), logger)
	require.NoError(st.Initialize())

	m, err := metrics.New(metric.NewRegistry())
	require.NoError(err)

	handler, err := NewHandler(logger, st, m, "abci")
	require.NoError(err)
	return handler, st
}

func commitAccount(t *testing.T, st *state.State, addr ids.ShortID, acct state.Account) {
	t.Helper()

	overlay := state.NewOverlay(st)
	overlay.SetAccount(addr, acct)
	overlay.SetStorage(addr, []byte("color"), []byte("green"))

	committer := state.NewCommitter(st, log.NewNoOpLogger(), 0)
	_, err := committer.Finalize(context.Background(), overlay, state.BlockCommit{
		ChainID:      testChainID,
		Height:       0,
		FeeParameter: 1,
	})
	require.NoError(t, err)
}

// call performs one JSON-RPC 2.0 request against the handler.
func call(t *testing.T, handler http.Handler, method string, params any, reply any) error {
	t.Helper()
	require := require.New(t)

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  [1]any{params},
	})
	require.NoError(err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	if resp.Error != nil {
		return errors.New(resp.Error.Message)
	}
	return json.Unmarshal(resp.Result, reply)
}

func TestGetChainInfo(t *testing.T) {
	require := require.New(t)

	handler, st := newTestHandler(t)

	// Before genesis the API refuses to answer.
	var info GetChainInfoReply
	require.Error(call(t, handler, "abci.GetChainInfo", &struct{}{}, &info))

	addr := ids.ShortID{7}
	commitAccount(t, st, addr, state.Account{Nonce: 3, Balance: 900})

	require.NoError(call(t, handler, "abci.GetChainInfo", &struct{}{}, &info))
	require.Equal(testChainID, info.ChainID)
	require.Zero(uint64(info.Height))
	require.Equal(st.AppHash().String(), info.AppHash)
}

func TestGetAccount(t *testing.T) {
	require := require.New(t)

	handler, st := newTestHandler(t)
	addr := ids.ShortID{7}
	commitAccount(t, st, addr, state.Account{Nonce: 3, Balance: 900})

	var reply GetAccountReply
	require.NoError(call(t, handler, "abci.GetAccount", &GetAccountArgs{Address: addr.String()}, &reply))
	require.True(reply.Exists)
	require.Equal(uint64(3), uint64(reply.Nonce))
	require.Equal(uint64(900), uint64(reply.Balance))

	// Absent accounts read as zero valued.
	other := ids.ShortID{8}
	require.NoError(call(t, handler, "abci.GetAccount", &GetAccountArgs{Address: other.String()}, &reply))
	require.False(reply.Exists)
	require.Zero(uint64(reply.Balance))

	require.Error(call(t, handler, "abci.GetAccount", &GetAccountArgs{Address: "not-an-address"}, &reply))
}

func TestGetStorage(t *testing.T) {
	require := require.New(t)

	handler, st := newTestHandler(t)
	addr := ids.ShortID{7}
	commitAccount(t, st, addr, state.Account{Balance: 1})

	var reply GetStorageReply
	require.NoError(call(t, handler, "abci.GetStorage", &GetStorageArgs{
		Address: addr.String(),
		Key:     hex.EncodeToString([]byte("color")),
	}, &reply))
	require.True(reply.Exists)
	require.Equal(hex.EncodeToString([]byte("green")), reply.Value)

	require.NoError(call(t, handler, "abci.GetStorage", &GetStorageArgs{
		Address: addr.String(),
		Key:     hex.EncodeToString([]byte("missing")),
	}, &reply))
	require.False(reply.Exists)
}
