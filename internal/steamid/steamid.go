// Package steamid converts textual SteamIDs ("STEAM_X:Y:Z") into the
// SteamID64 form used as the session primary key.
package steamid

import (
	"errors"
	"strconv"
	"strings"
)

var ErrInvalid = errors.New("invalid steamid")

const base = uint64(76561197960265728)

// Resolve maps a SteamID like "STEAM_0:1:12345" to its decimal SteamID64.
// This is a syntactic transform only; a resolvable ID proves nothing about
// who sent it.
func Resolve(id2 string) (string, error) {
	if !strings.HasPrefix(id2, "STEAM_") {
		return "", ErrInvalid
	}
	parts := strings.Split(id2, ":")
	if len(parts) != 3 {
		return "", ErrInvalid
	}
	auth, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "", ErrInvalid
	}
	acc, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return "", ErrInvalid
	}
	return strconv.FormatUint(base+acc*2+auth, 10), nil
}
