// Package eip712 signs and verifies attestation messages as EIP712 typed
// structured data.
package eip712

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// DomainName is the EIP712 domain name of the attestation contract.
const DomainName = "EAS Attestation"

// ErrInvalidTypedData marks a domain, type schema or message that cannot be
// canonicalised. It is the only error Sign and Verify return for bad input.
var ErrInvalidTypedData = errors.New("invalid typed data")

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Domain binds a signature to one contract deployment.
type Domain struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ChainID           *big.Int       `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

// BuildDomain assembles a Domain.
func BuildDomain(name, contractVersion string, chainID *big.Int, verifyingContract common.Address) Domain {
	return Domain{
		Name:              name,
		Version:           contractVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
}

// Validate checks that every domain field needed for hashing is present.
func (d Domain) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: domain name is required", ErrInvalidTypedData)
	}
	if d.Version == "" {
		return fmt.Errorf("%w: domain version is required", ErrInvalidTypedData)
	}
	if d.ChainID == nil {
		return fmt.Errorf("%w: domain chainId is required", ErrInvalidTypedData)
	}
	if d.ChainID.Sign() < 0 {
		return fmt.Errorf("%w: domain chainId is negative", ErrInvalidTypedData)
	}
	return nil
}

// Equal reports whether d and o describe the same deployment.
func (d Domain) Equal(o Domain) bool {
	if (d.ChainID == nil) != (o.ChainID == nil) {
		return false
	}
	if d.ChainID != nil && d.ChainID.Cmp(o.ChainID) != 0 {
		return false
	}
	return d.Name == o.Name && d.Version == o.Version && d.VerifyingContract == o.VerifyingContract
}

func (d Domain) typed() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(d.ChainID)),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}
