// Package address computes content addresses: short, stable identifiers for a
// source document under a given set of extraction parameters. Every cached
// artifact in the workspace is keyed by one.
package address

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// Length is the number of hex characters kept from the digest.
const Length = 16

var addressPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

// Address identifies a source document plus the parameters it was extracted with.
type Address string

// String returns the address as a plain string.
func (a Address) String() string { return string(a) }

// Valid reports whether a looks like a computed address.
func (a Address) Valid() bool { return addressPattern.MatchString(string(a)) }

// Params are the extraction parameters folded into an address. Changing any of
// them produces a different address and therefore a cold cache.
type Params struct {
	PageLimit        int
	ExtractorVersion string
}

// Compute derives the address of source under params.
func Compute(source []byte, params Params) Address {
	h := sha256.New()
	h.Write(source)
	return finish(h, params)
}

// ComputeReader is Compute over a stream. Read errors are returned as is.
func ComputeReader(r io.Reader, params Params) (Address, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", errors.Wrap(err, "failed to read source")
	}
	return finish(h, params), nil
}

// Derive keys an intermediate artifact produced from parent.
func Derive(parent Address, label string) Address {
	h := sha256.New()
	h.Write([]byte(parent))
	h.Write([]byte{0})
	h.Write([]byte(label))
	return Address(hex.EncodeToString(h.Sum(nil))[:Length])
}

// Parse validates a user supplied address.
func Parse(s string) (Address, error) {
	a := Address(s)
	if !a.Valid() {
		return "", errors.Errorf("invalid content address %q", s)
	}
	return a, nil
}

func finish(h hash.Hash, params Params) Address {
	// A separator byte keeps the params from being confused with source bytes.
	h.Write([]byte{0})
	fmt.Fprintf(h, "page_limit=%s;extractor=%s", strconv.Itoa(params.PageLimit), params.ExtractorVersion)
	return Address(hex.EncodeToString(h.Sum(nil))[:Length])
}
