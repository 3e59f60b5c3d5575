// Package derive turns private key bytes into the addresses a wallet would
// have shown, and matches them against a target set.
package derive

import (
	"fmt"
	"strings"
)

// Family is a rule for getting from 32 key bytes to receive addresses.
type Family uint8

const (
	// Direct uses the bytes as the private key, as pre-HD wallets did.
	Direct Family = iota
	// BIP32 is the early m/0'/0/i layout.
	BIP32
	BIP44
	BIP49
	BIP84
	BIP86
)

var familyNames = [...]string{
	Direct: "direct",
	BIP32:  "bip32",
	BIP44:  "bip44",
	BIP49:  "bip49",
	BIP84:  "bip84",
	BIP86:  "bip86",
}

// Families returns every supported family.
func Families() []Family {
	return []Family{Direct, BIP32, BIP44, BIP49, BIP84, BIP86}
}

func (f Family) String() string {
	if int(f) >= len(familyNames) {
		return fmt.Sprintf("Family(%d)", uint8(f))
	}
	return familyNames[f]
}

// HD reports whether the family treats the bytes as a BIP32 seed.
func (f Family) HD() bool {
	return f != Direct
}

// purpose is the BIP43 purpose level, zero for layouts without one.
func (f Family) purpose() uint32 {
	switch f {
	case BIP44:
		return 44
	case BIP49:
		return 49
	case BIP84:
		return 84
	case BIP86:
		return 86
	}
	return 0
}

// ParseFamily parses a family name.
func ParseFamily(s string) (Family, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range familyNames {
		if s == name {
			return Family(i), nil
		}
	}
	return 0, fmt.Errorf("unknown derivation family %q", s)
}

// ParseFamilies parses a comma separated list, dropping duplicates. "all"
// selects every family.
func ParseFamilies(s string) ([]Family, error) {
	var out []Family
	seen := make(map[Family]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.EqualFold(part, "all") {
			return Families(), nil
		}
		f, err := ParseFamily(part)
		if err != nil {
			return nil, err
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no derivation family selected")
	}
	return out, nil
}

// FormatFamilies is the inverse of ParseFamilies.
func FormatFamilies(fams []Family) string {
	names := make([]string, len(fams))
	for i, f := range fams {
		names[i] = f.String()
	}
	return strings.Join(names, ",")
}
