package uid

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// packer builds a Solidity abi.encodePacked preimage: every value at its
// natural width, no padding, no length prefixes.
type packer struct {
	buf []byte
}

func (p *packer) bytes(b []byte) *packer {
	p.buf = append(p.buf, b...)
	return p
}

func (p *packer) hash(h common.Hash) *packer {
	return p.bytes(h[:])
}

func (p *packer) address(a common.Address) *packer {
	return p.bytes(a[:])
}

func (p *packer) uint16(v uint16) *packer {
	p.buf = binary.BigEndian.AppendUint16(p.buf, v)
	return p
}

func (p *packer) uint32(v uint32) *packer {
	p.buf = binary.BigEndian.AppendUint32(p.buf, v)
	return p
}

func (p *packer) uint64(v uint64) *packer {
	p.buf = binary.BigEndian.AppendUint64(p.buf, v)
	return p
}

func (p *packer) bool(v bool) *packer {
	if v {
		p.buf = append(p.buf, 1)
	} else {
		p.buf = append(p.buf, 0)
	}
	return p
}
