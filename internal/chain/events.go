// Package chain reads attestation contract state and events from an
// Ethereum node.
package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// easABIJSON is the minimal ABI fragment for the events we decode and the
// version() view.
const easABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "recipient", "type": "address"},
      {"indexed": true,  "name": "attester",  "type": "address"},
      {"indexed": false, "name": "uid",       "type": "bytes32"},
      {"indexed": true,  "name": "schemaUID", "type": "bytes32"}
    ],
    "name": "Attested",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "recipient", "type": "address"},
      {"indexed": true,  "name": "attester",  "type": "address"},
      {"indexed": false, "name": "uid",       "type": "bytes32"},
      {"indexed": true,  "name": "schemaUID", "type": "bytes32"}
    ],
    "name": "Revoked",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "data",      "type": "bytes32"},
      {"indexed": true, "name": "timestamp", "type": "uint64"}
    ],
    "name": "Timestamped",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "revoker",   "type": "address"},
      {"indexed": true, "name": "data",      "type": "bytes32"},
      {"indexed": true, "name": "timestamp", "type": "uint64"}
    ],
    "name": "RevokedOffchain",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "version",
    "outputs": [{"internalType": "string", "name": "", "type": "string"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var easABI = mustParseABI(easABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Event topic ids.
var (
	AttestedTopic        = easABI.Events["Attested"].ID
	RevokedTopic         = easABI.Events["Revoked"].ID
	TimestampedTopic     = easABI.Events["Timestamped"].ID
	RevokedOffchainTopic = easABI.Events["RevokedOffchain"].ID
)

// Attestation is a decoded Attested or Revoked event.
type Attestation struct {
	UID       common.Hash
	Schema    common.Hash
	Recipient common.Address
	Attester  common.Address
}

// Timestamp is a decoded Timestamped or RevokedOffchain event. Revoker is
// zero for Timestamped.
type Timestamp struct {
	Data      common.Hash
	Timestamp uint64
	Revoker   common.Address
}

// DecodeAttestLog decodes an Attested or Revoked log.
func DecodeAttestLog(l *types.Log) (Attestation, error) {
	if len(l.Topics) != 4 {
		return Attestation{}, fmt.Errorf("attest log: %d topics, want 4", len(l.Topics))
	}
	var name string
	switch l.Topics[0] {
	case AttestedTopic:
		name = "Attested"
	case RevokedTopic:
		name = "Revoked"
	default:
		return Attestation{}, fmt.Errorf("attest log: unexpected topic %s", l.Topics[0].Hex())
	}
	out, err := easABI.Unpack(name, l.Data)
	if err != nil {
		return Attestation{}, fmt.Errorf("attest log: %w", err)
	}
	id, ok := out[0].([32]byte)
	if !ok {
		return Attestation{}, fmt.Errorf("attest log: uid has type %T", out[0])
	}
	return Attestation{
		UID:       id,
		Recipient: common.BytesToAddress(l.Topics[1].Bytes()),
		Attester:  common.BytesToAddress(l.Topics[2].Bytes()),
		Schema:    l.Topics[3],
	}, nil
}

// DecodeTimestampLog decodes a Timestamped or RevokedOffchain log.
func DecodeTimestampLog(l *types.Log) (Timestamp, error) {
	if len(l.Topics) == 0 {
		return Timestamp{}, fmt.Errorf("timestamp log: no topics")
	}
	var ts Timestamp
	topics := l.Topics[1:]
	switch l.Topics[0] {
	case TimestampedTopic:
		if len(topics) != 2 {
			return Timestamp{}, fmt.Errorf("timestamped log: %d indexed topics, want 2", len(topics))
		}
	case RevokedOffchainTopic:
		if len(topics) != 3 {
			return Timestamp{}, fmt.Errorf("revokedOffchain log: %d indexed topics, want 3", len(topics))
		}
		ts.Revoker = common.BytesToAddress(topics[0].Bytes())
		topics = topics[1:]
	default:
		return Timestamp{}, fmt.Errorf("timestamp log: unexpected topic %s", l.Topics[0].Hex())
	}

	t := new(big.Int).SetBytes(topics[1].Bytes())
	if !t.IsUint64() {
		return Timestamp{}, fmt.Errorf("timestamp log: timestamp out of range")
	}
	ts.Data = topics[0]
	ts.Timestamp = t.Uint64()
	return ts, nil
}

// UIDsFromAttestLogs returns the uids of every Attested log in logs, in
// order. Other logs are skipped.
func UIDsFromAttestLogs(logs []*types.Log) []common.Hash {
	var uids []common.Hash
	for _, l := range logs {
		if len(l.Topics) == 0 || l.Topics[0] != AttestedTopic {
			continue
		}
		a, err := DecodeAttestLog(l)
		if err != nil {
			continue
		}
		uids = append(uids, a.UID)
	}
	return uids
}

// UIDsFromReceipt returns the uids attested in the transaction behind
// receipt.
func UIDsFromReceipt(receipt *types.Receipt) []common.Hash {
	return UIDsFromAttestLogs(receipt.Logs)
}

// TimestampsFromTimestampLogs returns the timestamps of every Timestamped
// log in logs.
func TimestampsFromTimestampLogs(logs []*types.Log) []uint64 {
	return timestampsOf(logs, TimestampedTopic)
}

// TimestampsFromOffchainRevocationLogs returns the timestamps of every
// RevokedOffchain log in logs.
func TimestampsFromOffchainRevocationLogs(logs []*types.Log) []uint64 {
	return timestampsOf(logs, RevokedOffchainTopic)
}

func timestampsOf(logs []*types.Log, topic common.Hash) []uint64 {
	var out []uint64
	for _, l := range logs {
		if len(l.Topics) == 0 || l.Topics[0] != topic {
			continue
		}
		ts, err := DecodeTimestampLog(l)
		if err != nil {
			continue
		}
		out = append(out, ts.Timestamp)
	}
	return out
}
