// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"encoding/json"

	"github.com/juju/errors"
)

const jsonRPCVersion = "2.0"

// clientRequest is the outbound envelope. Field order matches what the
// server's own clients send.
type clientRequest struct {
	Params  interface{} `json:"params,omitempty"`
	Version string      `json:"jsonrpc"`
	ID      uint32      `json:"id"`
	Method  string      `json:"method"`
}

// envelope is the part of an inbound message needed to route it. A
// present id marks a response; otherwise method names a notification.
type envelope struct {
	ID     *uint32         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func encodeRequest(id uint32, method string, params interface{}) ([]byte, error) {
	data, err := json.Marshal(&clientRequest{
		Params:  params,
		Version: jsonRPCVersion,
		ID:      id,
		Method:  method,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "encoding %s request", method)
	}
	return data, nil
}

func peekEnvelope(msg []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return envelope{}, errors.Annotate(err, "decoding message envelope")
	}
	return env, nil
}
