// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes a read-only JSON-RPC facade over last-committed
// state. It never sees an in-progress block.
package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/abciapp/metrics"
	"github.com/luxfi/abciapp/state"
	"github.com/luxfi/abciapp/utils/json"
)

var errNotInitialized = errors.New("chain not initialized")

// Service provides the node's RPC service.
type Service struct {
	log   log.Logger
	state *state.State
}

// NewHandler builds the HTTP handler serving the service under the given
// namespace, with API metrics recorded around every request.
func NewHandler(logger log.Logger, st *state.State, m metrics.Metrics, namespace string) (http.Handler, error) {
	codec := json.NewCodec()

	server := rpc.NewServer()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	server.RegisterInterceptFunc(m.InterceptRequest)
	server.RegisterAfterFunc(m.AfterRequest)
	if err := server.RegisterService(&Service{log: logger, state: st}, namespace); err != nil {
		return nil, err
	}
	return server, nil
}

// GetChainInfoReply is the reply for GetChainInfo.
type GetChainInfoReply struct {
	ChainID      string      `json:"chainID"`
	Height       json.Uint64 `json:"height"`
	AppHash      string      `json:"appHash"`
	StateRoot    string      `json:"stateRoot"`
	ReceiptsRoot string      `json:"receiptsRoot"`
	FeeParameter json.Uint64 `json:"feeParameter"`
}

// GetChainInfo returns the last committed chain state summary.
func (s *Service) GetChainInfo(_ *http.Request, _ *struct{}, reply *GetChainInfoReply) error {
	s.log.Debug("API called", log.String("service", "abci"), log.String("method", "getChainInfo"))

	if !s.state.IsInitialized() {
		return errNotInitialized
	}
	reply.ChainID = s.state.ChainID()
	reply.Height = json.Uint64(s.state.Height())
	reply.AppHash = s.state.AppHash().String()
	reply.StateRoot = s.state.StateRoot().String()
	reply.ReceiptsRoot = s.state.ReceiptsRoot().String()
	reply.FeeParameter = json.Uint64(s.state.FeeParameter())
	return nil
}

// GetAccountArgs are the arguments for GetAccount.
type GetAccountArgs struct {
	Address string `json:"address"`
}

// GetAccountReply is the reply for GetAccount. Absent accounts read as
// zero-valued, matching execution semantics.
type GetAccountReply struct {
	Address string      `json:"address"`
	Nonce   json.Uint64 `json:"nonce"`
	Balance json.Uint64 `json:"balance"`
	Exists  bool        `json:"exists"`
}

// GetAccount returns the committed account at the given address.
func (s *Service) GetAccount(_ *http.Request, args *GetAccountArgs, reply *GetAccountReply) error {
	s.log.Debug("API called", log.String("service", "abci"), log.String("method", "getAccount"))

	if !s.state.IsInitialized() {
		return errNotInitialized
	}
	addr, err := ids.ShortFromString(args.Address)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	acct, exists, err := s.state.GetAccount(addr)
	if err != nil {
		return err
	}
	reply.Address = addr.String()
	reply.Nonce = json.Uint64(acct.Nonce)
	reply.Balance = json.Uint64(acct.Balance)
	reply.Exists = exists
	return nil
}

// GetStorageArgs are the arguments for GetStorage. Key is hex encoded.
type GetStorageArgs struct {
	Address string `json:"address"`
	Key     string `json:"key"`
}

// GetStorageReply is the reply for GetStorage. Value is hex encoded and
// empty for absent keys.
type GetStorageReply struct {
	Value  string `json:"value"`
	Exists bool   `json:"exists"`
}

// GetStorage returns the committed storage value under an account's key.
func (s *Service) GetStorage(_ *http.Request, args *GetStorageArgs, reply *GetStorageReply) error {
	s.log.Debug("API called", log.String("service", "abci"), log.String("method", "getStorage"))

	if !s.state.IsInitialized() {
		return errNotInitialized
	}
	addr, err := ids.ShortFromString(args.Address)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	key, err := hex.DecodeString(args.Key)
	if err != nil {
		return fmt.Errorf("invalid key: %w", err)
	}

	value, err := s.state.GetStorage(addr, key)
	if err != nil {
		return err
	}
	reply.Value = hex.EncodeToString(value)
	reply.Exists = value != nil
	return nil
}
