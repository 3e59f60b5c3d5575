package derive

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/willf/bloom"
)

// ErrUnsupportedAddress is returned for address types no family can produce.
var ErrUnsupportedAddress = errors.New("unsupported address type")

// Class is the output type of an address.
type Class byte

const (
	ClassPubKeyHash Class = iota + 1
	ClassScriptHash
	ClassWitnessPubKeyHash
	ClassTaproot
)

func classOf(a btcutil.Address) (Class, error) {
	switch a.(type) {
	case *btcutil.AddressPubKeyHash:
		return ClassPubKeyHash, nil
	case *btcutil.AddressScriptHash:
		return ClassScriptHash, nil
	case *btcutil.AddressWitnessPubKeyHash:
		return ClassWitnessPubKeyHash, nil
	case *btcutil.AddressTaproot:
		return ClassTaproot, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrUnsupportedAddress, a)
}

// TargetSet is a read-only set of addresses once built. There is no limit on
// its size.
type TargetSet struct {
	net    *chaincfg.Params
	exact  map[string]string
	filter *bloom.BloomFilter
}

// NewTargetSet creates an empty set for the given network.
func NewTargetSet(net *chaincfg.Params) *TargetSet {
	return &TargetSet{net: net, exact: make(map[string]string)}
}

// Add decodes and inserts an address. It must not be called once the set
// is shared with workers.
func (t *TargetSet) Add(address string) error {
	a, err := btcutil.DecodeAddress(address, t.net)
	if err != nil {
		return fmt.Errorf("invalid address %s: %v", address, err)
	}
	if !a.IsForNet(t.net) {
		return fmt.Errorf("address %s is not for %s", address, t.net.Name)
	}
	class, err := classOf(a)
	if err != nil {
		return fmt.Errorf("address %s: %w", address, err)
	}
	t.exact[key(class, a.ScriptAddress())] = a.EncodeAddress()
	if t.filter != nil {
		t.filter.Add([]byte(key(class, a.ScriptAddress())))
	}
	return nil
}

// EnablePrefilter builds a Bloom filter over the current contents with the
// given false positive rate. Lookups consult it before the exact map.
func (t *TargetSet) EnablePrefilter(fpRate float64) {
	n := uint(len(t.exact))
	if n == 0 {
		n = 1
	}
	t.filter = bloom.NewWithEstimates(n, fpRate)
	for k := range t.exact {
		t.filter.Add([]byte(k))
	}
}

// Len returns the number of distinct targets.
func (t *TargetSet) Len() int { return len(t.exact) }

// Net returns the network the set decodes addresses for.
func (t *TargetSet) Net() *chaincfg.Params { return t.net }

// Lookup returns the encoded address when (class, hash) is a target.
func (t *TargetSet) Lookup(class Class, hash []byte) (string, bool) {
	var buf [33]byte
	buf[0] = byte(class)
	k := append(buf[:1], hash...)
	if t.filter != nil && !t.filter.Test(k) {
		return "", false
	}
	addr, ok := t.exact[string(k)]
	return addr, ok
}

func key(class Class, hash []byte) string {
	return string(append([]byte{byte(class)}, hash...))
}
