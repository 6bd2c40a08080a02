package id

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// bech32-style account addresses such as sei1... (human-readable part, separator, data).
var bech32AddressPattern = regexp.MustCompile(`^[a-z]{1,83}1[02-9ac-hj-np-z]{38,58}$`)

const (
	commandPrefix = "cmd_"
	pendingPrefix = "clr_"
)

// NewCommandID returns a fresh identifier for an ExecutableCommand.
func NewCommandID() string {
	return commandPrefix + uuid.NewString()
}

// NewPendingID returns a fresh identifier for a stored clarification.
func NewPendingID() string {
	return pendingPrefix + uuid.NewString()
}

func IsCommandID(v string) bool {
	return hasUUIDSuffix(v, commandPrefix)
}

func IsPendingID(v string) bool {
	return hasUUIDSuffix(v, pendingPrefix)
}

func hasUUIDSuffix(v, prefix string) bool {
	if !strings.HasPrefix(v, prefix) {
		return false
	}
	_, err := uuid.Parse(strings.TrimPrefix(v, prefix))
	return err == nil
}

// IsEVMAddress reports whether v is a 0x-prefixed 20-byte hex address.
func IsEVMAddress(v string) bool {
	v = strings.TrimSpace(v)
	return strings.HasPrefix(v, "0x") && common.IsHexAddress(v)
}

func IsBech32Address(v string) bool {
	return bech32AddressPattern.MatchString(strings.TrimSpace(v))
}

func IsAddress(v string) bool {
	return IsEVMAddress(v) || IsBech32Address(v)
}

// NormalizeAddress checksums EVM addresses and lowercases bech32 ones.
func NormalizeAddress(v string) string {
	v = strings.TrimSpace(v)
	if IsEVMAddress(v) {
		return common.HexToAddress(v).Hex()
	}
	return strings.ToLower(v)
}
