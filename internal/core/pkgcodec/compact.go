package pkgcodec

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AgentMesh-Net/attest-go/internal/core/eip712"
	"github.com/AgentMesh-Net/attest-go/internal/core/offchain"
	"github.com/AgentMesh-Net/attest-go/internal/core/wire"
)

// Tuple lengths. Packages written before messages were versioned stop at
// LegacyTupleLen; the trailing slot holds the message version.
const (
	LegacyTupleLen = 16
	TupleLen       = 17
)

// zeroSentinel replaces the zero recipient and the zero refUID on the wire.
const zeroSentinel = "0"

// CompactPackage is the positional wire form of a Package:
//
//	[contractVersion, chainId, verifyingContract, r, s, v, signer, uid,
//	 schema, recipient, time, expirationTime, refUID, revocable, data,
//	 nonce, version?]
//
// Hex values are kept as strings; decoding them is Uncompact's job.
type CompactPackage struct {
	ContractVersion   string
	ChainID           *big.Int
	VerifyingContract string
	R                 string
	S                 string
	V                 uint8
	Signer            string
	UID               string
	Schema            string
	Recipient         string
	Time              uint64
	ExpirationTime    uint64
	RefUID            string
	Revocable         bool
	Data              string
	Nonce             uint64
	// Version is nil when the tuple has no version slot (or a null one).
	Version *uint16
}

// HasVersionSlot reports whether the tuple carries an explicit version.
func (c *CompactPackage) HasVersionSlot() bool {
	return c.Version != nil
}

// MessageVersion is the explicit version, or 0 for legacy tuples.
func (c *CompactPackage) MessageVersion() uint16 {
	if c.Version == nil {
		return 0
	}
	return *c.Version
}

// MarshalJSON writes the positional array.
func (c CompactPackage) MarshalJSON() ([]byte, error) {
	tuple := make([]any, 0, TupleLen)
	tuple = append(tuple,
		c.ContractVersion,
		encodeUint(c.ChainID),
		c.VerifyingContract,
		c.R,
		c.S,
		c.V,
		c.Signer,
		c.UID,
		c.Schema,
		c.Recipient,
		encodeUint64(c.Time),
		encodeUint64(c.ExpirationTime),
		c.RefUID,
		c.Revocable,
		c.Data,
		encodeUint64(c.Nonce),
	)
	if c.Version != nil {
		tuple = append(tuple, *c.Version)
	}
	return json.Marshal(tuple)
}

// UnmarshalJSON reads a positional array of LegacyTupleLen or TupleLen
// slots.
func (c *CompactPackage) UnmarshalJSON(b []byte) error {
	var slots []json.RawMessage
	if err := json.Unmarshal(b, &slots); err != nil {
		return fmt.Errorf("compact package: %w", err)
	}
	if len(slots) < LegacyTupleLen {
		return fmt.Errorf("compact package: %d slots, need at least %d", len(slots), LegacyTupleLen)
	}
	if len(slots) > TupleLen {
		return fmt.Errorf("compact package: %d slots, at most %d allowed", len(slots), TupleLen)
	}

	var out CompactPackage
	d := slotDecoder{slots: slots}
	d.string(0, "contractVersion", &out.ContractVersion)
	d.bigUint(1, "chainId", &out.ChainID)
	d.string(2, "verifyingContract", &out.VerifyingContract)
	d.string(3, "r", &out.R)
	d.string(4, "s", &out.S)
	d.uint8(5, "v", &out.V)
	d.string(6, "signer", &out.Signer)
	d.string(7, "uid", &out.UID)
	d.string(8, "schema", &out.Schema)
	d.string(9, "recipient", &out.Recipient)
	d.uint64(10, "time", &out.Time)
	d.uint64(11, "expirationTime", &out.ExpirationTime)
	d.string(12, "refUID", &out.RefUID)
	d.bool(13, "revocable", &out.Revocable)
	d.string(14, "data", &out.Data)
	d.uint64(15, "nonce", &out.Nonce)
	if len(slots) == TupleLen {
		d.version(16, &out.Version)
	}
	if d.err != nil {
		return d.err
	}
	*c = out
	return nil
}

// slotDecoder decodes tuple slots, keeping the first error.
type slotDecoder struct {
	slots []json.RawMessage
	err   error
}

func (d *slotDecoder) fail(i int, name string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("compact package: slot %d (%s): %w", i, name, err)
	}
}

func (d *slotDecoder) string(i int, name string, dst *string) {
	if err := json.Unmarshal(d.slots[i], dst); err != nil {
		d.fail(i, name, err)
	}
}

func (d *slotDecoder) bool(i int, name string, dst *bool) {
	if err := json.Unmarshal(d.slots[i], dst); err != nil {
		d.fail(i, name, err)
	}
}

func (d *slotDecoder) uint8(i int, name string, dst *uint8) {
	v, err := decodeUint(d.slots[i], 8)
	if err != nil {
		d.fail(i, name, err)
		return
	}
	*dst = uint8(v.Uint64())
}

func (d *slotDecoder) uint64(i int, name string, dst *uint64) {
	v, err := decodeUint64(d.slots[i])
	if err != nil {
		d.fail(i, name, err)
		return
	}
	*dst = v
}

func (d *slotDecoder) bigUint(i int, name string, dst **big.Int) {
	v, err := decodeUint(d.slots[i], 256)
	if err != nil {
		d.fail(i, name, err)
		return
	}
	*dst = v
}

func (d *slotDecoder) version(i int, dst **uint16) {
	if string(d.slots[i]) == "null" {
		return
	}
	v, err := decodeUint(d.slots[i], 16)
	if err != nil {
		d.fail(i, "version", err)
		return
	}
	version := uint16(v.Uint64())
	*dst = &version
}

// Compact converts pkg to its positional form. The zero recipient and zero
// refUID become "0". Packages are always held in the nested signature
// layout; ParsePackageJSON lifts the flat legacy layout on the way in.
func Compact(pkg *Package) CompactPackage {
	sig, msg := &pkg.Sig, &pkg.Sig.Message

	recipient := msg.Recipient.Hex()
	if msg.Recipient == (common.Address{}) {
		recipient = zeroSentinel
	}
	refUID := msg.RefUID.Hex()
	if msg.RefUID == (common.Hash{}) {
		refUID = zeroSentinel
	}

	c := CompactPackage{
		ContractVersion:   sig.Domain.Version,
		ChainID:           sig.Domain.ChainID,
		VerifyingContract: sig.Domain.VerifyingContract.Hex(),
		R:                 sig.Signature.R.Hex(),
		S:                 sig.Signature.S.Hex(),
		V:                 sig.Signature.V,
		Signer:            pkg.Signer.Hex(),
		UID:               sig.UID.Hex(),
		Schema:            msg.Schema.Hex(),
		Recipient:         recipient,
		Time:              msg.Time,
		ExpirationTime:    msg.ExpirationTime,
		RefUID:            refUID,
		Revocable:         msg.Revocable,
		Data:              hexutil.Encode(msg.Data),
		Nonce:             msg.Nonce,
	}
	if msg.Version > 0 {
		v := msg.Version
		c.Version = &v
	}
	return c
}

// Uncompact rebuilds a Package from its positional form. The type schema is
// re-derived from the message version.
func Uncompact(c CompactPackage) (*Package, error) {
	version := c.MessageVersion()
	schema := eip712.TypeSchemaFor(version)

	var (
		d   hexDecoder
		msg = offchain.Message{
			Version:        version,
			Time:           c.Time,
			ExpirationTime: c.ExpirationTime,
			Revocable:      c.Revocable,
			Nonce:          c.Nonce,
		}
		contract = d.address("verifyingContract", c.VerifyingContract)
		r        = d.hash("r", c.R)
		s        = d.hash("s", c.S)
		signer   = d.address("signer", c.Signer)
		id       = d.hash("uid", c.UID)
	)
	msg.Schema = d.hash("schema", c.Schema)
	if c.Recipient != zeroSentinel {
		msg.Recipient = d.address("recipient", c.Recipient)
	}
	if c.RefUID != zeroSentinel {
		msg.RefUID = d.hash("refUID", c.RefUID)
	}
	msg.Data = d.bytes("data", c.Data)
	if d.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, d.err)
	}

	chainID := c.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}

	return &Package{
		Sig: offchain.SignedAttestation{
			Domain:      eip712.BuildDomain(eip712.DomainName, c.ContractVersion, new(big.Int).Set(chainID), contract),
			PrimaryType: schema.PrimaryType,
			Types:       schema.Types(),
			Signature:   eip712.Signature{V: c.V, R: r, S: s},
			UID:         id,
			Message:     msg,
		},
		Signer: signer,
	}, nil
}

// hexDecoder decodes hex fields, keeping the first error.
type hexDecoder struct {
	err error
}

func (d *hexDecoder) address(name, s string) common.Address {
	a, err := wire.DecodeAddress(s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("%s: %w", name, err)
	}
	return a
}

func (d *hexDecoder) hash(name, s string) common.Hash {
	h, err := wire.DecodeHash(s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("%s: %w", name, err)
	}
	return h
}

func (d *hexDecoder) bytes(name, s string) []byte {
	b, err := wire.DecodeBytes(s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("%s: %w", name, err)
	}
	return b
}
