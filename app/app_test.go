// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package app

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/abciapp/abci"
	"github.com/luxfi/abciapp/config"
	"github.com/luxfi/abciapp/executor"
	"github.com/luxfi/abciapp/genesis"
	"github.com/luxfi/abciapp/metrics"
	"github.com/luxfi/abciapp/state"
	"github.com/luxfi/abciapp/txs"
)

const testChainID = "testchain-1"

var testConfig = config.Config{
	BlockGasLimit: 1_000_000,
	RetainBlocks:  0,
}

type testEnv struct {
	app *App
	db  database.Database
	key *secp256k1.PrivateKey
}

func newTestApp(t *testing.T, db database.Database) *testEnv {
	t.Helper()
	require := require.New(t)

	key, err := secp256k1.NewPrivateKey()
	require.NoError(err)

	env := &testEnv{db: db, key: key}
	env.app = buildApp(t, db)
	return env
}

func buildApp(t *testing.T, db database.Database) *App {
	t.Helper()
	require := require.New(t)

	logger := log.NewNoOpLogger()
	m, err := metrics.New(metric.NewRegistry())
	require.NoError(err)

	st := state.New(db, logger)
	committer := state.NewCommitter(st, logger, 0)
	a := New(testConfig, st, committer, executor.NewRegistry(), logger, m)
	require.NoError(a.Initialize(context.Background()))
	return a
}

func (env *testEnv) genesisBytes(t *testing.T, balance uint64) []byte {
	t.Helper()

	bytes, err := json.Marshal(&genesis.Genesis{
		ChainID:             testChainID,
		InitialFeeParameter: 1,
		Allocations: []genesis.Allocation{
			{Address: env.key.Address(), Balance: balance},
		},
	})
	require.NoError(t, err)
	return bytes
}

func (env *testEnv) initChain(t *testing.T, balance uint64) ids.ID {
	t.Helper()

	resp, err := env.app.InitChain(context.Background(), &abci.RequestInitChain{
		ChainID:      testChainID,
		GenesisBytes: env.genesisBytes(t, balance),
	})
	require.NoError(t, err)
	return resp.AppHash
}

func (env *testEnv) signTx(t *testing.T, unsigned txs.UnsignedTx) *txs.Tx {
	t.Helper()

	unsigned.ChainID = testChainID
	tx, err := txs.New(unsigned, env.key)
	require.NoError(t, err)
	return tx
}

func (env *testEnv) beginBlock(t *testing.T, height uint64) {
	t.Helper()

	_, err := env.app.BeginBlock(context.Background(), &abci.RequestBeginBlock{
		Header: abci.Header{ChainID: testChainID, Height: height},
	})
	require.NoError(t, err)
}

// runBlock drives one full block through the lifecycle and returns its
// commit response.
func (env *testEnv) runBlock(t *testing.T, height uint64, rawTxs ...[]byte) *abci.ResponseCommit {
	t.Helper()
	ctx := context.Background()

	env.beginBlock(t, height)
	for _, raw := range rawTxs {
		_, err := env.app.DeliverTx(ctx, &abci.RequestDeliverTx{Tx: raw})
		require.NoError(t, err)
	}
	_, err := env.app.EndBlock(ctx, &abci.RequestEndBlock{Height: height})
	require.NoError(t, err)

	resp, err := env.app.Commit(ctx, &abci.RequestCommit{})
	require.NoError(t, err)
	return resp
}

func TestInfoBeforeGenesis(t *testing.T) {
	require := require.New(t)

	env := newTestApp(t, memdb.New())
	resp, err := env.app.Info(context.Background(), &abci.RequestInfo{})
	require.NoError(err)
	require.Equal(Name, resp.Data)
	require.Zero(resp.LastHeight)
	require.Equal(ids.Empty, resp.LastAppHash)
}

func TestInitChainCommitsGenesis(t *testing.T) {
	require := require.New(t)

	env := newTestApp(t, memdb.New())
	appHash := env.initChain(t, 1_000_000)
	require.NotEqual(ids.Empty, appHash)

	resp, err := env.app.Info(context.Background(), &abci.RequestInfo{})
	require.NoError(err)
	require.Zero(resp.LastHeight)
	require.Equal(appHash, resp.LastAppHash)

	// Replaying InitChain for the same chain is idempotent.
	again, err := env.app.InitChain(context.Background(), &abci.RequestInitChain{
		ChainID:      testChainID,
		GenesisBytes: env.genesisBytes(t, 1_000_000),
	})
	require.NoError(err)
	require.Equal(appHash, again.AppHash)

	// But claiming a different chain is not.
	_, err = env.app.InitChain(context.Background(), &abci.RequestInitChain{
		ChainID:      "otherchain-9",
		GenesisBytes: env.genesisBytes(t, 1_000_000),
	})
	require.Error(err)
}

func TestFullBlockLifecycle(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	env := newTestApp(t, memdb.New())
	genesisHash := env.initChain(t, 1_000_000)

	to := ids.ShortID{0xaa}
	tx := env.signTx(t, txs.UnsignedTx{
		Nonce:    0,
		GasLimit: 30_000,
		To:       to,
		Value:    500,
		Payload:  &txs.TransferPayload{},
	})

	check, err := env.app.CheckTx(ctx, &abci.RequestCheckTx{Tx: tx.Bytes()})
	require.NoError(err)
	require.True(check.Code.IsOK())

	env.beginBlock(t, 1)
	deliver, err := env.app.DeliverTx(ctx, &abci.RequestDeliverTx{Tx: tx.Bytes()})
	require.NoError(err)
	require.True(deliver.Code.IsOK())
	require.Equal(uint64(executor.BaseTxGas), deliver.GasUsed)
	require.NotEmpty(deliver.Events)

	end, err := env.app.EndBlock(ctx, &abci.RequestEndBlock{Height: 1})
	require.NoError(err)
	require.Equal(uint64(executor.MinFeeParameter), end.FeeParameter)

	commit, err := env.app.Commit(ctx, &abci.RequestCommit{})
	require.NoError(err)
	require.NotEqual(genesisHash, commit.AppHash)

	info, err := env.app.Info(ctx, &abci.RequestInfo{})
	require.NoError(err)
	require.Equal(uint64(1), info.LastHeight)
	require.Equal(commit.AppHash, info.LastAppHash)

	// The transfer is visible in committed state.
	query, err := env.app.Query(ctx, &abci.RequestQuery{Path: "account", Data: to[:]})
	require.NoError(err)
	require.True(query.Code.IsOK())
	acct, err := state.ParseAccount(query.Value)
	require.NoError(err)
	require.Equal(uint64(500), acct.Balance)
}

func TestLifecycleSequenceEnforced(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	env := newTestApp(t, memdb.New())

	// Nothing block-scoped may run before genesis.
	_, err := env.app.BeginBlock(ctx, &abci.RequestBeginBlock{
		Header: abci.Header{ChainID: testChainID, Height: 1},
	})
	require.Error(err)

	env.initChain(t, 1_000_000)

	_, err = env.app.DeliverTx(ctx, &abci.RequestDeliverTx{Tx: []byte{1}})
	require.ErrorIs(err, ErrProtocolSequence)

	_, err = env.app.EndBlock(ctx, &abci.RequestEndBlock{Height: 1})
	require.ErrorIs(err, ErrProtocolSequence)

	_, err = env.app.Commit(ctx, &abci.RequestCommit{})
	require.ErrorIs(err, ErrProtocolSequence)

	env.beginBlock(t, 1)

	// No nested blocks, and commit must follow end-block.
	_, err = env.app.BeginBlock(ctx, &abci.RequestBeginBlock{
		Header: abci.Header{ChainID: testChainID, Height: 2},
	})
	require.ErrorIs(err, ErrProtocolSequence)

	_, err = env.app.Commit(ctx, &abci.RequestCommit{})
	require.ErrorIs(err, ErrProtocolSequence)

	_, err = env.app.EndBlock(ctx, &abci.RequestEndBlock{Height: 1})
	require.NoError(err)

	_, err = env.app.DeliverTx(ctx, &abci.RequestDeliverTx{Tx: []byte{1}})
	require.ErrorIs(err, ErrProtocolSequence)
}

func TestBeginBlockHeightChecked(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	env := newTestApp(t, memdb.New())
	env.initChain(t, 1_000_000)
	env.runBlock(t, 1)

	// Replaying an already-committed height is rejected.
	_, err := env.app.BeginBlock(ctx, &abci.RequestBeginBlock{
		Header: abci.Header{ChainID: testChainID, Height: 1},
	})
	require.ErrorIs(err, ErrProtocolSequence)

	// So is skipping ahead.
	_, err = env.app.BeginBlock(ctx, &abci.RequestBeginBlock{
		Header: abci.Header{ChainID: testChainID, Height: 3},
	})
	require.ErrorIs(err, ErrProtocolSequence)

	env.beginBlock(t, 2)
}

func TestDeliverTxUndecodable(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	env := newTestApp(t, memdb.New())
	env.initChain(t, 1_000_000)

	env.beginBlock(t, 1)
	resp, err := env.app.DeliverTx(ctx, &abci.RequestDeliverTx{Tx: []byte("garbage")})
	require.NoError(err)
	require.Equal(abci.CodeDecodeFailed, resp.Code)

	_, err = env.app.EndBlock(ctx, &abci.RequestEndBlock{Height: 1})
	require.NoError(err)
	commit, err := env.app.Commit(ctx, &abci.RequestCommit{})
	require.NoError(err)

	// The rejection receipt is part of the block: the receipts root differs
	// from an empty block's.
	require.NotEqual(state.ReceiptsRoot(nil), mustReceiptsRoot(t, env.db))
	require.NotEqual(ids.Empty, commit.AppHash)
}

func mustReceiptsRoot(t *testing.T, db database.Database) ids.ID {
	t.Helper()

	st := state.New(db, log.NewNoOpLogger())
	require.NoError(t, st.Initialize())
	return st.ReceiptsRoot()
}

func TestDeliverTxWrongChain(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	env := newTestApp(t, memdb.New())
	env.initChain(t, 1_000_000)

	wrongChain, err := txs.New(txs.UnsignedTx{
		ChainID:  "otherchain-9",
		Nonce:    0,
		GasLimit: 30_000,
		Payload:  &txs.TransferPayload{},
	}, env.key)
	require.NoError(err)

	check, err := env.app.CheckTx(ctx, &abci.RequestCheckTx{Tx: wrongChain.Bytes()})
	require.NoError(err)
	require.Equal(abci.CodeDecodeFailed, check.Code)

	env.beginBlock(t, 1)
	deliver, err := env.app.DeliverTx(ctx, &abci.RequestDeliverTx{Tx: wrongChain.Bytes()})
	require.NoError(err)
	require.Equal(abci.CodeDecodeFailed, deliver.Code)
}

func TestDeliverTxNonceReuseWithinBlock(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	env := newTestApp(t, memdb.New())
	env.initChain(t, 1_000_000)

	first := env.signTx(t, txs.UnsignedTx{
		Nonce:    0,
		GasLimit: 30_000,
		Payload:  &txs.TransferPayload{},
	})
	replay := env.signTx(t, txs.UnsignedTx{
		Nonce:    0,
		GasLimit: 30_000,
		To:       ids.ShortID{0xbb},
		Value:    1,
		Payload:  &txs.TransferPayload{},
	})

	env.beginBlock(t, 1)
	resp, err := env.app.DeliverTx(ctx, &abci.RequestDeliverTx{Tx: first.Bytes()})
	require.NoError(err)
	require.True(resp.Code.IsOK())

	// Delivery validates against the block overlay, where the nonce already
	// advanced.
	resp, err = env.app.DeliverTx(ctx, &abci.RequestDeliverTx{Tx: replay.Bytes()})
	require.NoError(err)
	require.Equal(abci.CodeNonceMismatch, resp.Code)

	// CheckTx meanwhile still sees the committed nonce.
	check, err := env.app.CheckTx(ctx, &abci.RequestCheckTx{Tx: replay.Bytes()})
	require.NoError(err)
	require.True(check.Code.IsOK())
}

func TestEmptyBlocksDeterministic(t *testing.T) {
	require := require.New(t)

	env1 := newTestApp(t, memdb.New())
	env2 := &testEnv{db: memdb.New(), key: env1.key}
	env2.app = buildApp(t, env2.db)

	env1.initChain(t, 1_000_000)
	env2.initChain(t, 1_000_000)

	commit1 := env1.runBlock(t, 1)
	commit2 := env2.runBlock(t, 1)
	require.Equal(commit1.AppHash, commit2.AppHash)
}

func TestBlocksWithTxsDeterministic(t *testing.T) {
	require := require.New(t)

	env1 := newTestApp(t, memdb.New())
	env2 := &testEnv{db: memdb.New(), key: env1.key}
	env2.app = buildApp(t, env2.db)

	env1.initChain(t, 1_000_000)
	env2.initChain(t, 1_000_000)

	tx := env1.signTx(t, txs.UnsignedTx{
		Nonce:    0,
		GasLimit: 100_000,
		To:       ids.ShortID{0xaa},
		Value:    123,
		Payload:  &txs.StorePayload{Key: []byte("k"), Value: []byte("v")},
	})

	// Identical ordered transactions on independent replicas reach identical
	// commitments.
	commit1 := env1.runBlock(t, 1, tx.Bytes())
	commit2 := env2.runBlock(t, 1, tx.Bytes())
	require.Equal(commit1.AppHash, commit2.AppHash)
}

func TestCrashBeforeCommitReplaysToSameAppHash(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db := memdb.New()
	env := newTestApp(t, db)
	env.initChain(t, 1_000_000)

	tx := env.signTx(t, txs.UnsignedTx{
		Nonce:    0,
		GasLimit: 30_000,
		To:       ids.ShortID{0xdd},
		Value:    7,
		Payload:  &txs.TransferPayload{},
	})

	// Reference run on an identical replica, committed cleanly.
	ref := &testEnv{db: memdb.New(), key: env.key}
	ref.app = buildApp(t, ref.db)
	ref.initChain(t, 1_000_000)
	want := ref.runBlock(t, 1, tx.Bytes())

	// Execute through end-block, then crash before commit.
	env.beginBlock(t, 1)
	_, err := env.app.DeliverTx(ctx, &abci.RequestDeliverTx{Tx: tx.Bytes()})
	require.NoError(err)
	_, err = env.app.EndBlock(ctx, &abci.RequestEndBlock{Height: 1})
	require.NoError(err)

	// A restarted adapter over the same store sees the block as never
	// committed and replays it to the identical commitment.
	restarted := &testEnv{db: db, key: env.key}
	restarted.app = buildApp(t, db)

	info, err := restarted.app.Info(ctx, &abci.RequestInfo{})
	require.NoError(err)
	require.Zero(info.LastHeight)

	got := restarted.runBlock(t, 1, tx.Bytes())
	require.Equal(want.AppHash, got.AppHash)
}

func TestStateSurvivesRestart(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db := memdb.New()
	env := newTestApp(t, db)
	env.initChain(t, 1_000_000)

	tx := env.signTx(t, txs.UnsignedTx{
		Nonce:    0,
		GasLimit: 30_000,
		To:       ids.ShortID{0xcc},
		Value:    42,
		Payload:  &txs.TransferPayload{},
	})
	commit := env.runBlock(t, 1, tx.Bytes())

	// A new adapter over the same database resumes exactly where the old one
	// stopped.
	restarted := buildApp(t, db)
	info, err := restarted.Info(ctx, &abci.RequestInfo{})
	require.NoError(err)
	require.Equal(uint64(1), info.LastHeight)
	require.Equal(commit.AppHash, info.LastAppHash)

	// And opens the next block, not a replay.
	_, err = restarted.BeginBlock(ctx, &abci.RequestBeginBlock{
		Header: abci.Header{ChainID: testChainID, Height: 2},
	})
	require.NoError(err)
}

func TestQueryPaths(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	env := newTestApp(t, memdb.New())
	env.initChain(t, 1_000_000)

	store := env.signTx(t, txs.UnsignedTx{
		Nonce:    0,
		GasLimit: 100_000,
		Payload:  &txs.StorePayload{Key: []byte("color"), Value: []byte("green")},
	})
	env.runBlock(t, 1, store.Bytes())

	height, err := env.app.Query(ctx, &abci.RequestQuery{Path: "height"})
	require.NoError(err)
	require.True(height.Code.IsOK())
	require.Equal(uint64(1), binary.BigEndian.Uint64(height.Value))

	fee, err := env.app.Query(ctx, &abci.RequestQuery{Path: "feeParameter"})
	require.NoError(err)
	require.True(fee.Code.IsOK())
	require.Equal(uint64(executor.MinFeeParameter), binary.BigEndian.Uint64(fee.Value))

	addr := env.key.Address()
	storage, err := env.app.Query(ctx, &abci.RequestQuery{
		Path: "storage",
		Data: append(addr[:], []byte("color")...),
	})
	require.NoError(err)
	require.True(storage.Code.IsOK())
	require.Equal([]byte("green"), storage.Value)

	missing, err := env.app.Query(ctx, &abci.RequestQuery{Path: "account", Data: make([]byte, 20)})
	require.NoError(err)
	require.Equal(abci.CodeQueryFailed, missing.Code)

	unknown, err := env.app.Query(ctx, &abci.RequestQuery{Path: "bogus"})
	require.NoError(err)
	require.Equal(abci.CodeQueryFailed, unknown.Code)
}
