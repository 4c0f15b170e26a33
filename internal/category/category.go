// Package category classifies captured key labels into risk tiers.
package category

import "strings"

type Category string

const (
	// All is reserved: it tags synthetic presence audit rows and acts as
	// the "no filter" value on the read side.
	All        Category = "all"
	Normal     Category = "normal"
	Medium     Category = "medium"
	Suspicious Category = "suspicious"
)

var normalKeys = makeSet(
	"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M",
	"N", "O", "P", "Q", "R", "S", "T", "U", "V", "W", "X", "Y", "Z",
	"0", "1", "2", "3", "4", "5", "6", "7", "8", "9",
	"MOUSE1", "MOUSE2", "LSHIFT", "ENTER", "BACKSPACE", "SPACE",
)

var mediumKeys = makeSet(
	"KP_0", "KP_1", "KP_2", "KP_3", "KP_4", "KP_5", "KP_6", "KP_7", "KP_8", "KP_9",
	"KP_ENTER", "KP_DECIMAL", "KP_DIVIDE", "KP_MULTIPLY", "KP_MINUS", "KP_PLUS",
	"LALT", "RALT",
	"F1", "F2", "F3", "F4", "F5", "F6", "F7", "F8", "F9", "F10", "F11", "F12",
)

func makeSet(keys ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Categorize maps a key label to its tier. Matching is case-insensitive;
// anything outside the normal and medium sets counts as suspicious.
func Categorize(key string) Category {
	upper := strings.ToUpper(key)
	if _, ok := normalKeys[upper]; ok {
		return Normal
	}
	if _, ok := mediumKeys[upper]; ok {
		return Medium
	}
	return Suspicious
}

// Parse reads a filter value from a query string. Empty means All.
func Parse(raw string) (Category, bool) {
	switch Category(strings.ToLower(raw)) {
	case "":
		return All, true
	case All:
		return All, true
	case Normal:
		return Normal, true
	case Medium:
		return Medium, true
	case Suspicious:
		return Suspicious, true
	}
	return "", false
}
