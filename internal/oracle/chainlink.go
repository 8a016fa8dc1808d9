// Package oracle provides the settlement reference price and the baseline
// captured at the start of each market interval.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// BTCUSDPolygon is the Chainlink BTC/USD aggregator the markets settle on.
const BTCUSDPolygon = "0xc907E116054Ad103354f2D350FD2514433D57F6f"

// DefaultPolygonRPCs are tried in order, rotating on error.
var DefaultPolygonRPCs = []string{
	"https://polygon-bor-rpc.publicnode.com",
	"https://polygon.drpc.org",
	"https://polygon-rpc.com",
}

const aggregatorABI = `[
 {"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"latestRoundData","outputs":[
  {"name":"roundId","type":"uint80"},
  {"name":"answer","type":"int256"},
  {"name":"startedAt","type":"uint256"},
  {"name":"updatedAt","type":"uint256"},
  {"name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

// ContractCaller is the subset of ethclient.Client the aggregator needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DialFunc connects to one RPC endpoint.
type DialFunc func(ctx context.Context, url string) (ContractCaller, error)

func dialEthclient(ctx context.Context, url string) (ContractCaller, error) {
	return ethclient.DialContext(ctx, url)
}

// Chainlink reads the latest answer from an aggregator contract.
type Chainlink struct {
	rpcs    []string
	address common.Address
	abi     abi.ABI
	dial    DialFunc
	logger  *slog.Logger

	mu       sync.Mutex
	idx      int
	client   ContractCaller
	decimals *uint8
}

// NewChainlink creates a reader for the aggregator at address. dial may be
// nil to use ethclient.
func NewChainlink(address string, rpcs []string, dial DialFunc, logger *slog.Logger) (*Chainlink, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("oracle: invalid aggregator address %q", address)
	}
	if len(rpcs) == 0 {
		rpcs = DefaultPolygonRPCs
	}
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("oracle: parse aggregator abi: %w", err)
	}
	if dial == nil {
		dial = dialEthclient
	}
	return &Chainlink{
		rpcs:    rpcs,
		address: common.HexToAddress(address),
		abi:     parsed,
		dial:    dial,
		logger:  logger.With(slog.String("component", "chainlink")),
	}, nil
}

func (c *Chainlink) Name() string { return "chainlink" }

// Price returns the latest answer scaled by the feed decimals, and the time
// the round was last updated. On any error the next RPC is selected.
func (c *Chainlink) Price(ctx context.Context) (decimal.Decimal, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price, at, err := c.readLocked(ctx)
	if err != nil {
		c.rotateLocked()
		return decimal.Zero, time.Time{}, err
	}
	return price, at, nil
}

func (c *Chainlink) readLocked(ctx context.Context) (decimal.Decimal, time.Time, error) {
	if c.client == nil {
		client, err := c.dial(ctx, c.rpcs[c.idx])
		if err != nil {
			return decimal.Zero, time.Time{}, fmt.Errorf("oracle: dial %s: %w", c.rpcs[c.idx], err)
		}
		c.client = client
	}

	if c.decimals == nil {
		out, err := c.call(ctx, "decimals")
		if err != nil {
			return decimal.Zero, time.Time{}, err
		}
		dec, ok := out[0].(uint8)
		if !ok {
			return decimal.Zero, time.Time{}, fmt.Errorf("oracle: decimals: unexpected type %T", out[0])
		}
		c.decimals = &dec
	}

	out, err := c.call(ctx, "latestRoundData")
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	if len(out) != 5 {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: latestRoundData: %d outputs", len(out))
	}
	answer, ok := out[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: latestRoundData: bad answer %v", out[1])
	}
	updated, _ := out[3].(*big.Int)

	price := decimal.NewFromBigInt(answer, -int32(*c.decimals))
	at := time.Now().UTC()
	if updated != nil && updated.Sign() > 0 {
		at = time.Unix(updated.Int64(), 0).UTC()
	}
	return price, at, nil
}

func (c *Chainlink) call(ctx context.Context, method string) ([]any, error) {
	data, err := c.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("oracle: pack %s: %w", method, err)
	}
	raw, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: call %s via %s: %w", method, c.rpcs[c.idx], err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("oracle: unpack %s: %w", method, err)
	}
	return out, nil
}

func (c *Chainlink) rotateLocked() {
	if closer, ok := c.client.(interface{ Close() }); ok {
		closer.Close()
	}
	c.client = nil
	c.idx = (c.idx + 1) % len(c.rpcs)
	c.logger.Info("oracle: rotating rpc", slog.String("rpc", c.rpcs[c.idx]))
}
