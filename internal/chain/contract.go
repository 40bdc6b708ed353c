package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/AgentMesh-Net/attest-go/internal/config"
	"github.com/AgentMesh-Net/attest-go/internal/core/eip712"
)

// ContractCaller is the subset of *ethclient.Client ContractInfo needs.
type ContractCaller interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ContractVersion calls version() on the contract at addr.
func ContractVersion(ctx context.Context, caller ContractCaller, addr common.Address) (string, error) {
	data, err := easABI.Pack("version")
	if err != nil {
		return "", err
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("call version(): %w", err)
	}
	res, err := easABI.Unpack("version", out)
	if err != nil {
		return "", fmt.Errorf("decode version(): %w", err)
	}
	v, ok := res[0].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("decode version(): unexpected result %v", res)
	}
	return v, nil
}

// ContractInfo builds the EIP712 domain of the contract at addr from the
// node's chain id and the contract's reported version.
func ContractInfo(ctx context.Context, caller ContractCaller, addr common.Address) (eip712.Domain, error) {
	chainID, err := caller.ChainID(ctx)
	if err != nil {
		return eip712.Domain{}, fmt.Errorf("chain id: %w", err)
	}
	version, err := ContractVersion(ctx, caller, addr)
	if err != nil {
		return eip712.Domain{}, err
	}
	return eip712.BuildDomain(eip712.DomainName, version, chainID, addr), nil
}

// ResolveDomain returns the domain of a configured chain. The configured
// contract version wins; otherwise the node at RPCURL is asked, and must be
// serving the configured chain.
func ResolveDomain(ctx context.Context, cfg config.ChainConfig) (eip712.Domain, error) {
	chainID := new(big.Int).SetUint64(cfg.ChainID)
	if cfg.ContractVersion != "" {
		return eip712.BuildDomain(eip712.DomainName, cfg.ContractVersion, chainID, cfg.Contract()), nil
	}
	if cfg.RPCURL == "" {
		return eip712.Domain{}, fmt.Errorf("chain %d: contract_version or rpc_url is required", cfg.ChainID)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return eip712.Domain{}, fmt.Errorf("chain %d: dial: %w", cfg.ChainID, err)
	}
	defer client.Close()

	d, err := ContractInfo(ctx, client, cfg.Contract())
	if err != nil {
		return eip712.Domain{}, fmt.Errorf("chain %d: %w", cfg.ChainID, err)
	}
	if d.ChainID.Cmp(chainID) != 0 {
		return eip712.Domain{}, fmt.Errorf("chain %d: rpc_url serves chain %s", cfg.ChainID, d.ChainID)
	}
	return d, nil
}
