package derive

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/wille/randstorm/internal/keygen"
	"github.com/wille/randstorm/internal/report"
)

// ErrInvalidKey is returned for key bytes that are zero or not below the
// curve order. Such candidates cannot match anything.
var ErrInvalidKey = errors.New("private key out of range")

// Candidate is one address derived from a key. Hash is the address payload:
// a pubkey hash, script hash, witness program or taproot output key.
type Candidate struct {
	Family Family
	Path   string
	Class  Class
	Hash   []byte
}

// Address encodes the candidate for net.
func (c *Candidate) Address(net *chaincfg.Params) (btcutil.Address, error) {
	switch c.Class {
	case ClassPubKeyHash:
		return btcutil.NewAddressPubKeyHash(c.Hash, net)
	case ClassScriptHash:
		return btcutil.NewAddressScriptHashFromHash(c.Hash, net)
	case ClassWitnessPubKeyHash:
		return btcutil.NewAddressWitnessPubKeyHash(c.Hash, net)
	case ClassTaproot:
		return btcutil.NewAddressTaproot(c.Hash, net)
	}
	return nil, fmt.Errorf("%w: class %d", ErrUnsupportedAddress, c.Class)
}

// Match is a candidate found in the target set.
type Match struct {
	Address string
	Family  Family
	Path    string
}

// Deriver derives candidates for a fixed set of families. It holds no
// mutable state and is safe for concurrent use.
type Deriver struct {
	net      *chaincfg.Params
	families []Family
	hdCount  uint32
}

// NewDeriver creates a deriver. hdCount is the number of receive indexes
// tried per HD family and is raised to one if zero.
func NewDeriver(net *chaincfg.Params, families []Family, hdCount uint32) *Deriver {
	if hdCount == 0 {
		hdCount = 1
	}
	return &Deriver{net: net, families: families, hdCount: hdCount}
}

// Families returns the configured families.
func (d *Deriver) Families() []Family { return d.families }

// Net returns the network addresses are derived for.
func (d *Deriver) Net() *chaincfg.Params { return d.net }

// ValidKey reports whether key is in [1, n-1].
func ValidKey(key *[keygen.KeySize]byte) bool {
	var s btcec.ModNScalar
	overflow := s.SetByteSlice(key[:])
	valid := !overflow && !s.IsZero()
	s.Zero()
	return valid
}

// Derive appends the candidates of every configured family to dst. key is
// zeroed before Derive returns, whatever the outcome.
func (d *Deriver) Derive(key *[keygen.KeySize]byte, dst []Candidate) ([]Candidate, error) {
	defer keygen.Scrub(key[:])

	start := len(dst)
	var invalid bool
	for _, f := range d.families {
		var err error
		dst, err = d.appendFamily(key, f, dst)
		if errors.Is(err, ErrInvalidKey) {
			invalid = true
			continue
		}
		if err != nil {
			return dst, err
		}
	}
	if invalid && len(dst) == start {
		return dst, ErrInvalidKey
	}
	return dst, nil
}

// DeriveCandidates derives the addresses of a single family. key is zeroed
// before it returns.
func DeriveCandidates(net *chaincfg.Params, key *[keygen.KeySize]byte, f Family, hdCount uint32) ([]Candidate, error) {
	return NewDeriver(net, []Family{f}, hdCount).Derive(key, nil)
}

func (d *Deriver) appendFamily(key *[keygen.KeySize]byte, f Family, dst []Candidate) ([]Candidate, error) {
	if f == Direct {
		if !ValidKey(key) {
			return dst, ErrInvalidKey
		}
		priv, pub := btcec.PrivKeyFromBytes(key[:])
		defer priv.Zero()

		dst = append(dst,
			Candidate{Family: Direct, Path: "direct/uncompressed", Class: ClassPubKeyHash,
				Hash: btcutil.Hash160(pub.SerializeUncompressed())},
			Candidate{Family: Direct, Path: "direct/compressed", Class: ClassPubKeyHash,
				Hash: btcutil.Hash160(pub.SerializeCompressed())},
		)
		return dst, nil
	}

	master, err := hdkeychain.NewMaster(key[:], d.net)
	if err != nil {
		if errors.Is(err, hdkeychain.ErrUnusableSeed) {
			return dst, ErrInvalidKey
		}
		return dst, err
	}
	defer master.Zero()

	branch, prefix, err := d.branch(master, f)
	if err != nil {
		return dst, err
	}
	defer branch.Zero()

	for i := uint32(0); i < d.hdCount; i++ {
		child, err := branch.Derive(i)
		if errors.Is(err, hdkeychain.ErrInvalidChild) {
			continue
		}
		if err != nil {
			return dst, err
		}
		pub, err := child.ECPubKey()
		child.Zero()
		if err != nil {
			return dst, err
		}

		c := Candidate{Family: f, Path: fmt.Sprintf("%s/%d", prefix, i)}
		switch f {
		case BIP32, BIP44:
			c.Class = ClassPubKeyHash
			c.Hash = btcutil.Hash160(pub.SerializeCompressed())
		case BIP49:
			c.Class = ClassScriptHash
			c.Hash, err = nestedWitnessHash(pub, d.net)
		case BIP84:
			c.Class = ClassWitnessPubKeyHash
			c.Hash = btcutil.Hash160(pub.SerializeCompressed())
		case BIP86:
			c.Class = ClassTaproot
			c.Hash = schnorr.SerializePubKey(txscript.ComputeTaprootKeyNoScript(pub))
		}
		if err != nil {
			return dst, err
		}
		dst = append(dst, c)
	}
	return dst, nil
}

// branch walks to the external chain of the family and returns it with its
// path prefix.
func (d *Deriver) branch(master *hdkeychain.ExtendedKey, f Family) (*hdkeychain.ExtendedKey, string, error) {
	var path []uint32
	var prefix string
	if f == BIP32 {
		path = []uint32{hdkeychain.HardenedKeyStart, 0}
		prefix = "m/0'/0"
	} else {
		coin := d.net.HDCoinType
		path = []uint32{
			hdkeychain.HardenedKeyStart + f.purpose(),
			hdkeychain.HardenedKeyStart + coin,
			hdkeychain.HardenedKeyStart, // account 0
			0,                           // external chain
		}
		prefix = fmt.Sprintf("m/%d'/%d'/0'/0", f.purpose(), coin)
	}

	k := master
	for _, idx := range path {
		next, err := k.Derive(idx)
		if k != master {
			k.Zero()
		}
		if err != nil {
			return nil, "", fmt.Errorf("derive %s: %w", prefix, err)
		}
		k = next
	}
	return k, prefix, nil
}

// nestedWitnessHash is the script hash of the P2WPKH redeem script.
func nestedWitnessHash(pub *btcec.PublicKey, net *chaincfg.Params) ([]byte, error) {
	wpkh, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), net)
	if err != nil {
		return nil, err
	}
	redeem, err := txscript.PayToAddrScript(wpkh)
	if err != nil {
		return nil, err
	}
	return btcutil.Hash160(redeem), nil
}

// Matches returns every candidate present in targets.
func Matches(cands []Candidate, targets *TargetSet) []Match {
	var out []Match
	for i := range cands {
		c := &cands[i]
		if addr, ok := targets.Lookup(c.Class, c.Hash); ok {
			out = append(out, Match{Address: addr, Family: c.Family, Path: c.Path})
		}
	}
	return out
}

// Confidence grades a match by how well understood its path is.
func Confidence(f Family, provisionalMixing bool) report.Confidence {
	switch {
	case provisionalMixing:
		return report.Low
	case f == Direct:
		return report.High
	}
	return report.Medium
}
