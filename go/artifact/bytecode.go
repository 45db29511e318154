// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package artifact

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0xsoniclabs/duet/go/duet"
)

// Bytecode is contract code in the hex form emitted by the compiler. It
// may contain library placeholders of the shape `__$<34 hex digits>$__`,
// where the digits are the first 17 bytes of the keccak256 hash of the
// fully qualified library name. Placeholders occupy the space of a 20-byte
// address and are replaced during linking.
type Bytecode string

const (
	placeholderPrefix = "__$"
	placeholderSuffix = "$__"
	placeholderLength = 40 // same width as a hex-encoded address
	placeholderDigits = placeholderLength - len(placeholderPrefix) - len(placeholderSuffix)
)

// PlaceholderOf computes the placeholder the compiler emits for a library
// with the given fully qualified name.
func PlaceholderOf(fullyQualifiedName string) string {
	hash := crypto.Keccak256([]byte(fullyQualifiedName))
	return placeholderPrefix + hex.EncodeToString(hash)[:placeholderDigits] + placeholderSuffix
}

// Placeholders returns the distinct placeholders contained in the code, in
// order of first occurrence.
func (b Bytecode) Placeholders() []string {
	var res []string
	seen := map[string]bool{}
	code := string(b)
	for {
		start := strings.Index(code, placeholderPrefix)
		if start < 0 || start+placeholderLength > len(code) {
			break
		}
		candidate := code[start : start+placeholderLength]
		if strings.HasSuffix(candidate, placeholderSuffix) {
			if !seen[candidate] {
				seen[candidate] = true
				res = append(res, candidate)
			}
			code = code[start+placeholderLength:]
		} else {
			code = code[start+len(placeholderPrefix):]
		}
	}
	return res
}

// Link substitutes placeholders using the given placeholder-to-address
// mapping and returns the resulting code together with the list of
// placeholders the mapping did not cover.
func (b Bytecode) Link(replacements map[string]duet.Address) (Bytecode, []string) {
	code := string(b)
	var missing []string
	for _, placeholder := range b.Placeholders() {
		address, found := replacements[placeholder]
		if !found {
			missing = append(missing, placeholder)
			continue
		}
		code = strings.ReplaceAll(code, placeholder, hex.EncodeToString(address[:]))
	}
	return Bytecode(code), missing
}

// Bytes decodes the code into its binary form. Decoding fails if the code
// still contains unresolved placeholders or is not valid hex.
func (b Bytecode) Bytes() (duet.Code, error) {
	if placeholders := b.Placeholders(); len(placeholders) > 0 {
		return nil, &duet.UnresolvedLibraryError{Missing: placeholders}
	}
	code := strings.TrimPrefix(string(b), "0x")
	res, err := hex.DecodeString(code)
	if err != nil {
		return nil, fmt.Errorf("invalid bytecode: %w", err)
	}
	return res, nil
}
