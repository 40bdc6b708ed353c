// Package uid derives the deterministic identifiers of schemas, on-chain
// attestations and offchain attestations. Every layout here must match the
// attestation contracts byte for byte.
package uid

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/AgentMesh-Net/attest-go/internal/ethutil"
)

// Identifier is a 32-byte content hash.
type Identifier = common.Hash

var (
	// ZeroAddress is the "no recipient / no attester" sentinel.
	ZeroAddress = common.Address{}
	// ZeroUID is the "no reference" sentinel: 32 zero bytes.
	ZeroUID = Identifier{}
)

// SchemaUID mirrors SchemaRegistry:
// keccak256(abi.encodePacked(string schema, address resolver, bool revocable)).
func SchemaUID(schema string, resolver common.Address, revocable bool) Identifier {
	p := new(packer).
		bytes([]byte(schema)).
		address(resolver).
		bool(revocable)
	return ethutil.Keccak256Hash(p.buf)
}

// OnchainUID mirrors the attestation contract's _getUID. bump is only
// non-zero when the contract had to step past an existing identifier.
func OnchainUID(
	schema Identifier,
	recipient, attester common.Address,
	time, expirationTime uint64,
	revocable bool,
	refUID Identifier,
	data []byte,
	bump uint32,
) Identifier {
	p := new(packer).
		hash(schema).
		address(recipient).
		address(attester).
		uint64(time).
		uint64(expirationTime).
		bool(revocable).
		hash(refUID).
		bytes(data).
		uint32(bump)
	return ethutil.Keccak256Hash(p.buf)
}

// OffchainUID derives the identifier of an offchain attestation.
//
// The schema is packed as the UTF-8 bytes of its lowercase 0x hex string and
// the attester slot is always zero, so offchain identifiers never coincide
// with on-chain ones. Version 0 omits the version prefix entirely; any other
// version prepends it as a uint16.
func OffchainUID(
	version uint16,
	schema Identifier,
	recipient common.Address,
	time, expirationTime uint64,
	revocable bool,
	refUID Identifier,
	data []byte,
) Identifier {
	p := new(packer)
	if version > 0 {
		p.uint16(version)
	}
	p.bytes([]byte(schema.Hex())).
		address(recipient).
		address(ZeroAddress).
		uint64(time).
		uint64(expirationTime).
		bool(revocable).
		hash(refUID).
		bytes(data).
		uint32(0)
	return ethutil.Keccak256Hash(p.buf)
}
