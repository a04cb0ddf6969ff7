package metadata

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// MetaplexProgramID is the Metaplex Token Metadata program.
const MetaplexProgramID = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"

const (
	mintAccountSize  = 82
	metadataV1Key    = 4
	maxNameLength    = 32
	maxSymbolLength  = 10
	metadataMinSize  = 1 + 32 + 32 + 4
	metadataSeed     = "metadata"
	pdaMarker        = "ProgramDerivedAddress"
	borshStringLimit = 64
)

var errNoPDA = errors.New("no off-curve program address")

type mintInfo struct {
	decimals int
	supply   float64
}

// parseMint reads an SPL Token Mint account.
//
// Layout (82 bytes): mintAuthority COption<Pubkey> (36), supply u64 (8),
// decimals u8 (1), isInitialized bool (1), freezeAuthority COption<Pubkey> (36).
func parseMint(data string) (mintInfo, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return mintInfo{}, fmt.Errorf("decode mint data: %w", err)
	}
	if len(raw) < mintAccountSize {
		return mintInfo{}, fmt.Errorf("mint data too short: %d", len(raw))
	}

	supply := binary.LittleEndian.Uint64(raw[36:44])
	decimals := int(raw[44])
	scaled := decimal.NewFromBigInt(new(big.Int).SetUint64(supply), -int32(decimals))
	return mintInfo{decimals: decimals, supply: scaled.InexactFloat64()}, nil
}

// parseMetaplex reads name and symbol from a Metaplex MetadataV1 account.
//
// Layout: key u8, updateAuthority Pubkey, mint Pubkey, name String,
// symbol String, uri String, ... Borsh strings are a u32 length prefix
// followed by bytes, padded with NULs.
func parseMetaplex(data string) (name, symbol string, err error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", "", fmt.Errorf("decode metadata: %w", err)
	}
	if len(raw) < metadataMinSize {
		return "", "", fmt.Errorf("metadata too short: %d", len(raw))
	}
	if raw[0] != metadataV1Key {
		return "", "", fmt.Errorf("unexpected metadata key %d", raw[0])
	}

	offset := 1 + 32 + 32
	name, offset, err = borshString(raw, offset)
	if err != nil {
		return "", "", fmt.Errorf("name: %w", err)
	}
	symbol, _, err = borshString(raw, offset)
	if err != nil {
		return "", "", fmt.Errorf("symbol: %w", err)
	}
	return clip(name, maxNameLength), clip(symbol, maxSymbolLength), nil
}

func borshString(raw []byte, offset int) (string, int, error) {
	if offset+4 > len(raw) {
		return "", offset, errors.New("truncated length")
	}
	n := int(binary.LittleEndian.Uint32(raw[offset:]))
	offset += 4
	if n > borshStringLimit || offset+n > len(raw) {
		return "", offset, fmt.Errorf("bad length %d", n)
	}
	s := strings.TrimRight(string(raw[offset:offset+n]), "\x00")
	return strings.TrimSpace(s), offset + n, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// metadataAddress derives the Metaplex metadata PDA of mint.
// Seeds: ["metadata", metaplex program id, mint].
func metadataAddress(mint string) (string, error) {
	mintKey, err := base58.Decode(mint)
	if err != nil || len(mintKey) != 32 {
		return "", fmt.Errorf("invalid mint %q", mint)
	}
	program, err := base58.Decode(MetaplexProgramID)
	if err != nil {
		return "", err
	}
	return findProgramAddress([][]byte{[]byte(metadataSeed), program, mintKey}, program)
}

// findProgramAddress returns the first address, searching bumps from 255
// down, that is not a valid ed25519 point.
func findProgramAddress(seeds [][]byte, programID []byte) (string, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID)
		h.Write([]byte(pdaMarker))
		sum := h.Sum(nil)

		if !isOnCurve(sum) {
			return base58.Encode(sum), nil
		}
	}
	return "", errNoPDA
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
