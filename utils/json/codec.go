// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package json

import (
	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
)

// NewCodec returns the JSON-RPC 2.0 codec used by all HTTP API servers.
func NewCodec() rpc.Codec {
	return json2.NewCodec()
}
