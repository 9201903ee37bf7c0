// Package alias derives stable, non-linkable display aliases for bidders.
package alias

import (
	"hash/fnv"
	"strconv"
	"strings"
)

const (
	labelPrefix = "Bidder "
	codeWidth   = 4
	codeSpace   = 36 * 36 * 36 * 36
)

// Code returns the alias code for a user within one auction. The auction id
// salts the hash, so the same user gets unrelated codes in different rooms.
// Deterministic and collision-tolerant: this is a display label, not an
// identity system.
func Code(auctionID, userID string) string {
	h := fnv.New32a()
	h.Write([]byte(auctionID + ":" + userID))

	code := strings.ToUpper(strconv.FormatUint(uint64(h.Sum32())%codeSpace, 36))
	if len(code) < codeWidth {
		code = strings.Repeat("0", codeWidth-len(code)) + code
	}
	return code
}

// Label returns the display label for a user, e.g. "Bidder 0F3A".
func Label(auctionID, userID string) string {
	return labelPrefix + Code(auctionID, userID)
}
