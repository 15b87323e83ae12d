// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"math"

	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
)

const CodecVersion = 0

// Codec encodes the framed request and response bodies. Frames carry a
// message type byte ahead of the body, so only concrete types cross the
// wire and nothing needs interface registration.
var Codec codec.Manager

func init() {
	lc := linearcodec.NewDefault()
	Codec = codec.NewManager(math.MaxInt)
	if err := Codec.RegisterCodec(CodecVersion, lc); err != nil {
		panic(err)
	}
}

// Message type tags. A response frame echoes the tag of the request it
// answers; msgError answers any request whose handler failed.
const (
	msgError byte = iota
	msgInfo
	msgInitChain
	msgCheckTx
	msgBeginBlock
	msgDeliverTx
	msgEndBlock
	msgCommit
	msgQuery
)

// errorResponse is the body of an msgError frame.
type errorResponse struct {
	Message string `serialize:"true"`
}
