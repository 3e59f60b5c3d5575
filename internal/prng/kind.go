// Package prng reconstructs the Math.random generators shipped by browser
// JavaScript engines between 2011 and 2015.
//
// Every generator is a pair of pure functions: Seed turns SeedMaterial into
// an initial state and Advance steps a state, returning the next state and a
// 32-bit output. Only wrapping unsigned integer arithmetic is used so that
// every backend reproduces the same output sequence bit for bit.
package prng

import (
	"fmt"
	"strings"
)

// Kind identifies a historical engine family.
type Kind uint8

const (
	// V8MWC1616 is the Chrome/V8 multiply-with-carry generator.
	V8MWC1616 Kind = iota
	// SpiderMonkeyLCG is the Firefox 48-bit linear congruential generator.
	SpiderMonkeyLCG
	// JSCXorshift128Plus is the JavaScriptCore xorshift128+ generator.
	JSCXorshift128Plus
	// ChakraMT is the Internet Explorer Mersenne Twister variant.
	ChakraMT

	numKinds
)

var kindNames = [...]string{
	V8MWC1616:          "v8-mwc1616",
	SpiderMonkeyLCG:    "spidermonkey-lcg",
	JSCXorshift128Plus: "jsc-xorshift128plus",
	ChakraMT:           "chakra-mt",
}

var kindAliases = map[string]Kind{
	"v8":                  V8MWC1616,
	"chrome":              V8MWC1616,
	"mwc1616":             V8MWC1616,
	"v8-mwc1616":          V8MWC1616,
	"spidermonkey":        SpiderMonkeyLCG,
	"spidermonkey-lcg":    SpiderMonkeyLCG,
	"firefox":             SpiderMonkeyLCG,
	"sm":                  SpiderMonkeyLCG,
	"lcg48":               SpiderMonkeyLCG,
	"jsc":                 JSCXorshift128Plus,
	"jsc-xorshift128plus": JSCXorshift128Plus,
	"safari":              JSCXorshift128Plus,
	"webkit":              JSCXorshift128Plus,
	"xorshift128plus":     JSCXorshift128Plus,
	"chakra":              ChakraMT,
	"chakra-mt":           ChakraMT,
	"ie":                  ChakraMT,
	"edge_legacy":         ChakraMT,
	"mt":                  ChakraMT,
}

// Kinds returns every supported engine family in declaration order.
func Kinds() []Kind {
	return []Kind{V8MWC1616, SpiderMonkeyLCG, JSCXorshift128Plus, ChakraMT}
}

// Valid reports whether k names a known engine family.
func (k Kind) Valid() bool {
	return k < numKinds
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// ParseKind resolves an engine name or one of its aliases, case-insensitively.
func ParseKind(name string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown engine %q", name)
	}
	return k, nil
}

// MarshalText encodes the canonical engine name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid engine kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText accepts the canonical name or an alias.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
