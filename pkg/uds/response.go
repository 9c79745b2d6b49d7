package uds

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrShortResponse = errors.New("response too short")

type Response struct {
	DID  uint16
	Data []byte
}

// ParseResponse strips the positive response marker and data identifier
func ParseResponse(payload []byte) (Response, error) {
	if len(payload) >= 1 && payload[0] == NegativeResponse {
		if len(payload) < 3 {
			return Response{}, fmt.Errorf("%w: negative response of %d bytes", ErrShortResponse, len(payload))
		}
		return Response{}, &NegativeResponseError{Service: payload[1], Code: payload[2]}
	}
	if len(payload) < 3 {
		return Response{}, fmt.Errorf("%w: %d bytes", ErrShortResponse, len(payload))
	}
	if payload[0] != ReadDataByIdentifierResponse {
		return Response{}, fmt.Errorf("unexpected response service 0x%02X", payload[0])
	}
	return Response{
		DID:  binary.BigEndian.Uint16(payload[1:3]),
		Data: payload[3:],
	}, nil
}
