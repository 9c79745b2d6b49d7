// Package uds builds read-data-by-identifier requests and parses their responses.
package uds

import (
	"errors"
	"fmt"
)

const (
	ReadDataByIdentifier         = 0x22
	ReadDataByIdentifierResponse = ReadDataByIdentifier + 0x40
	NegativeResponse             = 0x7F

	// MaxSubcommand is the most identifier bytes a single frame query can carry
	MaxSubcommand = 5
)

var ErrQueryLength = errors.New("query must carry 1 to 5 subcommand bytes")

// BuildQuery returns the single frame payload {len, 0x22, sub..., 0 pad}
func BuildQuery(sub ...byte) ([8]byte, error) {
	var q [8]byte
	if len(sub) == 0 || len(sub) > MaxSubcommand {
		return q, fmt.Errorf("%w: got %d", ErrQueryLength, len(sub))
	}
	q[0] = byte(len(sub) + 1)
	q[1] = ReadDataByIdentifier
	copy(q[2:], sub)
	return q, nil
}

// MustBuildQuery is BuildQuery for compiled-in queries
func MustBuildQuery(sub ...byte) [8]byte {
	q, err := BuildQuery(sub...)
	if err != nil {
		panic(err)
	}
	return q
}
