// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"os"
	"strings"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/juju/errors"
)

// decodeResponse extracts the result of a response. A server-reported
// error is returned as *RPCError; a null result decodes as JSON null.
func decodeResponse(msg []byte) (json.RawMessage, error) {
	var result json.RawMessage
	err := json2.DecodeClientResponse(bytes.NewReader(msg), &result)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, json2.ErrNullResult):
		return json.RawMessage("null"), nil
	}
	if rpcErr, ok := err.(*json2.Error); ok {
		return nil, rpcErr
	}
	return nil, errors.Annotate(err, "decoding response")
}

// decodeResult unmarshals a result into reply. A nil reply discards it.
func decodeResult(method string, result json.RawMessage, reply interface{}) error {
	if reply == nil {
		return nil
	}
	if err := json.Unmarshal(result, reply); err != nil {
		return errors.Annotatef(err, "decoding %s result", method)
	}
	return nil
}

// isTransientError reports whether err looks like a connection problem
// that a new socket may cure.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, ErrRemoteClosed) || isTimeout(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe")
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
