// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package abci defines the request/response protocol between a BFT consensus
// engine and the application it drives. Message names and field semantics are
// fixed by the consensus engine's specification; the wire framing that
// carries them lives in the server package.
package abci

import (
	"context"

	"github.com/luxfi/ids"
)

// Code is the response code attached to per-transaction results. CodeOK
// means the transaction was accepted; every other value names the first
// check that failed.
type Code uint32

const (
	CodeOK Code = iota
	CodeDecodeFailed
	CodeInvalidSignature
	CodeNonceMismatch
	CodeInsufficientBalance
	CodeExecutorFailure
	CodeQueryFailed
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeDecodeFailed:
		return "decode failed"
	case CodeInvalidSignature:
		return "invalid signature"
	case CodeNonceMismatch:
		return "nonce mismatch"
	case CodeInsufficientBalance:
		return "insufficient balance"
	case CodeExecutorFailure:
		return "executor failure"
	case CodeQueryFailed:
		return "query failed"
	default:
		return "unknown"
	}
}

// IsOK returns true for accepted transactions.
func (c Code) IsOK() bool {
	return c == CodeOK
}

// Header carries the block context the consensus engine derived for the
// block being opened. It is read-only input to execution.
type Header struct {
	ChainID  string      `serialize:"true" json:"chainID"`
	Height   uint64      `serialize:"true" json:"height"`
	Time     int64       `serialize:"true" json:"time"`
	Proposer ids.ShortID `serialize:"true" json:"proposer"`
}

// Event is an opaque, ordered record emitted by transaction execution.
type Event struct {
	Type       string           `serialize:"true" json:"type"`
	Attributes []EventAttribute `serialize:"true" json:"attributes"`
}

type EventAttribute struct {
	Key   string `serialize:"true" json:"key"`
	Value string `serialize:"true" json:"value"`
}

type RequestInfo struct{}

type ResponseInfo struct {
	Data        string `serialize:"true" json:"data"`
	Version     string `serialize:"true" json:"version"`
	LastHeight  uint64 `serialize:"true" json:"lastHeight"`
	LastAppHash ids.ID `serialize:"true" json:"lastAppHash"`
}

type RequestInitChain struct {
	ChainID      string `serialize:"true" json:"chainID"`
	Time         int64  `serialize:"true" json:"time"`
	GenesisBytes []byte `serialize:"true" json:"genesisBytes"`
}

type ResponseInitChain struct {
	AppHash ids.ID `serialize:"true" json:"appHash"`
}

type RequestCheckTx struct {
	Tx []byte `serialize:"true" json:"tx"`
}

type ResponseCheckTx struct {
	Code Code   `serialize:"true" json:"code"`
	Log  string `serialize:"true" json:"log"`
}

type RequestBeginBlock struct {
	Header Header `serialize:"true" json:"header"`
}

type ResponseBeginBlock struct{}

type RequestDeliverTx struct {
	Tx []byte `serialize:"true" json:"tx"`
}

type ResponseDeliverTx struct {
	Code    Code    `serialize:"true" json:"code"`
	GasUsed uint64  `serialize:"true" json:"gasUsed"`
	Log     string  `serialize:"true" json:"log"`
	Events  []Event `serialize:"true" json:"events"`
}

type RequestEndBlock struct {
	Height uint64 `serialize:"true" json:"height"`
}

type ResponseEndBlock struct {
	FeeParameter uint64 `serialize:"true" json:"feeParameter"`
}

type RequestCommit struct{}

type ResponseCommit struct {
	AppHash ids.ID `serialize:"true" json:"appHash"`
	// RetainHeight hints how far back the consensus engine may prune its
	// block store. Zero means retain everything.
	RetainHeight uint64 `serialize:"true" json:"retainHeight"`
}

type RequestQuery struct {
	Path string `serialize:"true" json:"path"`
	Data []byte `serialize:"true" json:"data"`
}

type ResponseQuery struct {
	Code  Code   `serialize:"true" json:"code"`
	Value []byte `serialize:"true" json:"value"`
	Log   string `serialize:"true" json:"log"`
}

// Application is the state machine the consensus engine drives. Within one
// block the engine calls BeginBlock, DeliverTx for each ordered transaction,
// EndBlock, then Commit, and does not open the next block until Commit
// returns. CheckTx may be called concurrently with block processing and must
// only read last-committed state.
//
// Per-transaction failures are reported through response codes, never through
// the error return. A non-nil error means the call itself could not run to
// completion (out-of-order lifecycle call, storage failure) and the engine
// must not advance past the current height.
type Application interface {
	Info(context.Context, *RequestInfo) (*ResponseInfo, error)
	InitChain(context.Context, *RequestInitChain) (*ResponseInitChain, error)
	CheckTx(context.Context, *RequestCheckTx) (*ResponseCheckTx, error)
	BeginBlock(context.Context, *RequestBeginBlock) (*ResponseBeginBlock, error)
	DeliverTx(context.Context, *RequestDeliverTx) (*ResponseDeliverTx, error)
	EndBlock(context.Context, *RequestEndBlock) (*ResponseEndBlock, error)
	Commit(context.Context, *RequestCommit) (*ResponseCommit, error)
	Query(context.Context, *RequestQuery) (*ResponseQuery, error)
}
