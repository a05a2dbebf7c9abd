package fetcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"l3-health-alerts/internal/metric"
)

var (
	decWeiPerEth  = decimal.NewFromInt(1_000_000_000_000_000_000)
	decWeiPerGwei = decimal.NewFromInt(1_000_000_000)
)

// ChainOptions parameterise the on-chain health source.
type ChainOptions struct {
	RPCURL string
	// SequencerAddress overrides the miner-of-latest-header heuristic
	// used to locate the sequencer.
	SequencerAddress string
	Timeout          time.Duration
}

// Chain reads vital health metrics straight from the chain's RPC
// endpoint: block height, sequencer balance, gas figures, peer count,
// and a cumulative transaction counter.
type Chain struct {
	opts   ChainOptions
	logger zerolog.Logger

	clientMux sync.Mutex
	client    *ethclient.Client

	// cumulative tx counter across observed blocks so windowed TPS can
	// be derived as a counter delta
	lastHeight uint64
	txTotal    float64
}

// NewChain builds a new chain health source.
func NewChain(opts ChainOptions, logger zerolog.Logger) *Chain {
	return &Chain{opts: opts, logger: logger.With().Str("component", "chain_fetcher").Logger()}
}

// Name identifies the source in logs.
func (c *Chain) Name() string { return "chain" }

// Fetch samples the chain's health as of now.
func (c *Chain) Fetch(ctx context.Context, now time.Time) ([]metric.Sample, error) {
	if c.opts.RPCURL == "" {
		return nil, errors.New("chain rpc url not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}

	height := header.Number.Uint64()
	samples := []metric.Sample{
		{Key: metric.KeyBlockHeight, Value: float64(height), ObservedAt: now},
		{Key: metric.KeyGasUsed, Value: float64(header.GasUsed), ObservedAt: now},
	}

	samples = append(samples, c.txCounterSample(ctx, client, header, height, now)...)

	if balance, ok := c.sequencerBalance(ctx, client, header); ok {
		samples = append(samples, metric.Sample{Key: metric.KeySequencerBalance, Value: balance, ObservedAt: now})
	}

	if gasPrice, err := client.SuggestGasPrice(ctx); err == nil {
		gwei := decimal.NewFromBigInt(gasPrice, 0).Div(decWeiPerGwei)
		samples = append(samples, metric.Sample{Key: metric.KeyGasPriceGwei, Value: gwei.InexactFloat64(), ObservedAt: now})
	} else {
		c.logger.Warn().Err(err).Msg("could not fetch gas price")
	}

	if peers, err := client.PeerCount(ctx); err == nil {
		samples = append(samples, metric.Sample{Key: metric.KeyPeerCount, Value: float64(peers), ObservedAt: now})
	} else {
		c.logger.Debug().Err(err).Msg("peer count unavailable")
	}

	return samples, nil
}

// txCounterSample accumulates per-block transaction counts into a
// monotonically increasing counter. Only a newly observed block adds to
// the total; a repeated header contributes the unchanged counter.
func (c *Chain) txCounterSample(ctx context.Context, client *ethclient.Client, header *types.Header, height uint64, now time.Time) []metric.Sample {
	if height > c.lastHeight {
		count, err := client.TransactionCount(ctx, header.Hash())
		if err != nil {
			c.logger.Warn().Err(err).Uint64("height", height).Msg("could not fetch transaction count")
			return nil
		}
		c.lastHeight = height
		c.txTotal += float64(count)
	}
	return []metric.Sample{{Key: metric.KeyTxCount, Value: c.txTotal, ObservedAt: now}}
}

// sequencerBalance resolves the sequencer address and reads its ETH
// balance. The miner of the latest header is used as the sequencer
// unless an explicit address is configured.
func (c *Chain) sequencerBalance(ctx context.Context, client *ethclient.Client, header *types.Header) (float64, bool) {
	var addr common.Address
	if c.opts.SequencerAddress != "" {
		addr = common.HexToAddress(c.opts.SequencerAddress)
	} else {
		addr = header.Coinbase
	}
	if addr == (common.Address{}) {
		c.logger.Debug().Msg("sequencer address unknown, skipping balance")
		return 0, false
	}

	wei, err := client.BalanceAt(ctx, addr, nil)
	if err != nil {
		c.logger.Warn().Err(err).Str("address", addr.Hex()).Msg("could not fetch sequencer balance")
		return 0, false
	}

	eth := decimal.NewFromBigInt(wei, 0).Div(decWeiPerEth)
	return eth.InexactFloat64(), true
}

func (c *Chain) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ SampleSource = (*Chain)(nil)
