// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package server exposes the application over the consensus engine's framed
// socket protocol. Each frame is a 4-byte big-endian body length followed by
// the body: one message type byte and the codec-encoded message.
package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/abciapp/abci"
)

const (
	// lenPrefixSize is the size of the frame length prefix.
	lenPrefixSize = 4

	// maxFrameSize bounds a single frame body. Blocks are delivered one
	// transaction at a time, so frames stay small; anything larger is a
	// broken or hostile peer.
	maxFrameSize = 4 * 1024 * 1024
)

var (
	errFrameTooLarge  = errors.New("frame exceeds maximum size")
	errEmptyFrame     = errors.New("empty frame")
	errUnknownMessage = errors.New("unknown message type")
)

// Server accepts consensus engine connections and dispatches their calls to
// the application. The application serializes lifecycle calls itself, so
// multiple engine connections (mempool, consensus, query) are safe.
type Server struct {
	log log.Logger
	app abci.Application
}

func New(app abci.Application, logger log.Logger) *Server {
	return &Server{
		log: logger,
		app: app,
	}
}

// Serve listens on addr until ctx is canceled. It returns the first
// connection-handling error that was not a normal disconnect.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.serve(ctx, listener)
}

// serve runs the accept loop over an existing listener, which it owns and
// closes on shutdown.
func (s *Server) serve(ctx context.Context, listener net.Listener) error {
	s.log.Info("server listening", log.String("addr", listener.Addr().String()))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return listener.Close()
	})
	eg.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			s.log.Info("connection accepted", log.String("remote", conn.RemoteAddr().String()))
			eg.Go(func() error {
				// Close the connection when ctx is canceled so handle's
				// blocking read returns and shutdown doesn't wait on an
				// idle engine.
				done := make(chan struct{})
				defer close(done)
				go func() {
					select {
					case <-ctx.Done():
					case <-done:
					}
					_ = conn.Close()
				}()
				if err := s.handle(ctx, conn); err != nil {
					s.log.Warn("connection closed",
						log.String("remote", conn.RemoteAddr().String()),
						log.Err(err),
					)
				}
				return nil
			})
		}
	})

	err := eg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// handle runs one connection's request loop until EOF or a framing error.
// Handler errors are reported to the peer in-band and do not kill the
// connection; the engine decides whether to retry or halt.
func (s *Server) handle(ctx context.Context, conn net.Conn) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		msgType, body, err := readFrame(conn)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		respType, respBody, err := s.dispatch(ctx, msgType, body)
		if err != nil {
			s.log.Debug("request failed",
				log.Uint32("msgType", uint32(msgType)),
				log.Err(err),
			)
			respType = msgError
			respBody, err = Codec.Marshal(CodecVersion, &errorResponse{Message: err.Error()})
			if err != nil {
				return err
			}
		}
		if err := writeFrame(conn, respType, respBody); err != nil {
			return err
		}
	}
}

// dispatch decodes one request and runs it against the application.
func (s *Server) dispatch(ctx context.Context, msgType byte, body []byte) (byte, []byte, error) {
	var resp any
	var err error
	switch msgType {
	case msgInfo:
		req := &abci.RequestInfo{}
		if _, err := Codec.Unmarshal(body, req); err != nil {
			return 0, nil, err
		}
		resp, err = s.app.Info(ctx, req)
	case msgInitChain:
		req := &abci.RequestInitChain{}
		if _, err := Codec.Unmarshal(body, req); err != nil {
			return 0, nil, err
		}
		resp, err = s.app.InitChain(ctx, req)
	case msgCheckTx:
		req := &abci.RequestCheckTx{}
		if _, err := Codec.Unmarshal(body, req); err != nil {
			return 0, nil, err
		}
		resp, err = s.app.CheckTx(ctx, req)
	case msgBeginBlock:
		req := &abci.RequestBeginBlock{}
		if _, err := Codec.Unmarshal(body, req); err != nil {
			return 0, nil, err
		}
		resp, err = s.app.BeginBlock(ctx, req)
	case msgDeliverTx:
		req := &abci.RequestDeliverTx{}
		if _, err := Codec.Unmarshal(body, req); err != nil {
			return 0, nil, err
		}
		resp, err = s.app.DeliverTx(ctx, req)
	case msgEndBlock:
		req := &abci.RequestEndBlock{}
		if _, err := Codec.Unmarshal(body, req); err != nil {
			return 0, nil, err
		}
		resp, err = s.app.EndBlock(ctx, req)
	case msgCommit:
		req := &abci.RequestCommit{}
		if _, err := Codec.Unmarshal(body, req); err != nil {
			return 0, nil, err
		}
		resp, err = s.app.Commit(ctx, req)
	case msgQuery:
		req := &abci.RequestQuery{}
		if _, err := Codec.Unmarshal(body, req); err != nil {
			return 0, nil, err
		}
		resp, err = s.app.Query(ctx, req)
	default:
		return 0, nil, fmt.Errorf("%w: %#02x", errUnknownMessage, msgType)
	}
	if err != nil {
		return 0, nil, err
	}

	respBody, err := Codec.Marshal(CodecVersion, resp)
	if err != nil {
		return 0, nil, err
	}
	return msgType, respBody, nil
}

func readFrame(r io.Reader) (byte, []byte, error) {
	var lenPrefix [lenPrefixSize]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return 0, nil, err
	}
	frameLen := binary.BigEndian.Uint32(lenPrefix[:])
	switch {
	case frameLen == 0:
		return 0, nil, errEmptyFrame
	case frameLen > maxFrameSize:
		return 0, nil, fmt.Errorf("%w: %d bytes", errFrameTooLarge, frameLen)
	}

	body := make([]byte, frameLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return body[0], body[1:], nil
}

func writeFrame(w io.Writer, msgType byte, body []byte) error {
	frame := make([]byte, lenPrefixSize+1+len(body))
	binary.BigEndian.PutUint32(frame, uint32(1+len(body)))
	frame[lenPrefixSize] = msgType
	copy(frame[lenPrefixSize+1:], body)
	_, err := w.Write(frame)
	return err
}
