// Package idgen generates short, URL-safe IDs for sessions, reports and
// stream clients.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// ID prefixes by kind.
const (
	PrefixSession = "ses-"
	PrefixReport  = "rpt-"
	PrefixClient  = "sse-"
)

const (
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	length   = 12
)

// New returns prefix followed by a random nanoid.
func New(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// Session returns a session ID.
func Session() (string, error) { return New(PrefixSession) }

// Report returns an ID for a report created without one.
func Report() (string, error) { return New(PrefixReport) }

// Client returns a stream client ID.
func Client() (string, error) { return New(PrefixClient) }

// Must is New for callers that cannot handle a failure of the system random
// source.
func Must(prefix string) string {
	id, err := New(prefix)
	if err != nil {
		panic(err)
	}
	return id
}
