// Package domain defines core data structures shared by the sizing,
// generation, allocation and performance services.
package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// TokenID is the canonical identity of a token: its on-chain contract
// address. Symbols are display metadata only and must never be used as a
// comparison or lookup key.
type TokenID = common.Address

// Token couples a canonical token identity with display metadata.
type Token struct {
	Address TokenID `yaml:"address" json:"address"`
	// Symbol is for logs and traces only, never for lookups.
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals int    `yaml:"decimals" json:"decimals"`
}

// ParseTokenID validates and parses a hex contract address.
func ParseTokenID(s string) (TokenID, error) {
	if !common.IsHexAddress(s) {
		return TokenID{}, errors.Errorf("invalid token contract address: %q", s)
	}
	return common.HexToAddress(s), nil
}
