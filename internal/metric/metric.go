package metric

import (
	"fmt"
	"math"
	"time"
)

// Key identifies a monitored chain health dimension.
type Key string

const (
	// KeyBlockHeight is the latest block number observed on the chain.
	KeyBlockHeight Key = "block_height"
	// KeySequencerBalance is the sequencer's ETH balance.
	KeySequencerBalance Key = "sequencer_balance"
	// KeyLastBatchAge is the age in seconds of the last batch posted to the parent chain.
	KeyLastBatchAge Key = "last_batch_age"
	// KeyTxCount is a cumulative transaction counter across observed blocks.
	KeyTxCount Key = "tx_count"
	// KeyActiveAddresses is the number of distinct active addresses reported by the indexer.
	KeyActiveAddresses Key = "active_addresses"
	// KeyProtocolTVL is the protocol's total value locked.
	KeyProtocolTVL Key = "protocol_tvl"
	// KeyProtocolVolume is the protocol trading volume.
	KeyProtocolVolume Key = "protocol_volume"
	// KeyGasPriceGwei is the suggested network gas price in gwei.
	KeyGasPriceGwei Key = "gas_price_gwei"
	// KeyGasUsed is gas spent in the latest block.
	KeyGasUsed Key = "gas_used"
	// KeyPeerCount is the node's peer count.
	KeyPeerCount Key = "peer_count"
)

var knownKeys = map[Key]struct{}{
	KeyBlockHeight:      {},
	KeySequencerBalance: {},
	KeyLastBatchAge:     {},
	KeyTxCount:          {},
	KeyActiveAddresses:  {},
	KeyProtocolTVL:      {},
	KeyProtocolVolume:   {},
	KeyGasPriceGwei:     {},
	KeyGasUsed:          {},
	KeyPeerCount:        {},
}

// ParseKey validates a configured metric key string.
func ParseKey(s string) (Key, error) {
	k := Key(s)
	if _, ok := knownKeys[k]; !ok {
		return "", fmt.Errorf("unknown metric key %q", s)
	}
	return k, nil
}

// Keys returns every known metric key. The order is unspecified.
func Keys() []Key {
	out := make([]Key, 0, len(knownKeys))
	for k := range knownKeys {
		out = append(out, k)
	}
	return out
}

// Sample is one immutable observation of a metric.
type Sample struct {
	Key        Key
	Value      float64
	ObservedAt time.Time
}

// Valid reports whether the sample carries a usable value. Every known
// key is defined non-negative, so negative values are invalid alongside
// NaN and the infinities.
func (s Sample) Valid() bool {
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return false
	}
	return s.Value >= 0
}
