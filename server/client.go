// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/luxfi/abciapp/abci"
)

var _ abci.Application = (*Client)(nil)

// Client speaks the framed socket protocol from the engine's side. Calls on
// one client are serialized, matching the engine's in-order delivery.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends one request frame and decodes the matching response into resp.
func (c *Client) call(msgType byte, req any, resp any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := Codec.Marshal(CodecVersion, req)
	if err != nil {
		return err
	}
	if err := writeFrame(c.conn, msgType, body); err != nil {
		return err
	}

	respType, respBody, err := readFrame(c.conn)
	if err != nil {
		return err
	}
	switch respType {
	case msgType:
		_, err := Codec.Unmarshal(respBody, resp)
		return err
	case msgError:
		remote := &errorResponse{}
		if _, err := Codec.Unmarshal(respBody, remote); err != nil {
			return err
		}
		return errors.New(remote.Message)
	default:
		return fmt.Errorf("%w: response type %#02x to request type %#02x",
			errUnknownMessage, respType, msgType)
	}
}

func (c *Client) Info(_ context.Context, req *abci.RequestInfo) (*abci.ResponseInfo, error) {
	resp := &abci.ResponseInfo{}
	return resp, c.call(msgInfo, req, resp)
}

func (c *Client) InitChain(_ context.Context, req *abci.RequestInitChain) (*abci.ResponseInitChain, error) {
	resp := &abci.ResponseInitChain{}
	return resp, c.call(msgInitChain, req, resp)
}

func (c *Client) CheckTx(_ context.Context, req *abci.RequestCheckTx) (*abci.ResponseCheckTx, error) {
	resp := &abci.ResponseCheckTx{}
	return resp, c.call(msgCheckTx, req, resp)
}

func (c *Client) BeginBlock(_ context.Context, req *abci.RequestBeginBlock) (*abci.ResponseBeginBlock, error) {
	resp := &abci.ResponseBeginBlock{}
	return resp, c.call(msgBeginBlock, req, resp)
}

func (c *Client) DeliverTx(_ context.Context, req *abci.RequestDeliverTx) (*abci.ResponseDeliverTx, error) {
	resp := &abci.ResponseDeliverTx{}
	return resp, c.call(msgDeliverTx, req, resp)
}

func (c *Client) EndBlock(_ context.Context, req *abci.RequestEndBlock) (*abci.ResponseEndBlock, error) {
	resp := &abci.ResponseEndBlock{}
	return resp, c.call(msgEndBlock, req, resp)
}

func (c *Client) Commit(_ context.Context, req *abci.RequestCommit) (*abci.ResponseCommit, error) {
	resp := &abci.ResponseCommit{}
	return resp, c.call(msgCommit, req, resp)
}

func (c *Client) Query(_ context.Context, req *abci.RequestQuery) (*abci.ResponseQuery, error) {
	resp := &abci.ResponseQuery{}
	return resp, c.call(msgQuery, req, resp)
}
