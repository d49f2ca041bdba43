package rates

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// Chainlink-compatible aggregator selectors.
var (
	selectorLatestAnswer = []byte{0x50, 0xd2, 0x5b, 0xcd} // latestAnswer()
	selectorDecimals     = []byte{0x31, 0x3c, 0xe5, 0x67} // decimals()
)

// contractCaller is the slice of the Ethereum client the oracle needs.
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// OracleClient reads exchange rates from Chainlink-compatible price feeds.
// Feeds are keyed "FROM:TO:chainID"; RPC clients are dialed lazily per chain
// and reused for the lifetime of the process.
type OracleClient struct {
	rpcURLs map[int64]string
	feeds   map[string]string
	timeout time.Duration

	mu      sync.Mutex
	clients map[int64]contractCaller

	// dial is swapped out in tests.
	dial func(ctx context.Context, url string) (contractCaller, error)
}

// NewOracleClient builds an oracle client from feed and RPC configuration.
func NewOracleClient(rpcURLs map[int64]string, feeds map[string]string, timeout time.Duration) *OracleClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OracleClient{
		rpcURLs: rpcURLs,
		feeds:   feeds,
		timeout: timeout,
		clients: make(map[int64]contractCaller),
		dial: func(ctx context.Context, url string) (contractCaller, error) {
			return ethclient.DialContext(ctx, url)
		},
	}
}

// Supports reports whether a feed is configured for the pair on the chain.
func (o *OracleClient) Supports(from, to string, chainID int64) bool {
	_, ok := o.feeds[feedKey(from, to, chainID)]
	return ok
}

// Rate reads the pair's latest answer from its on-chain feed and scales it
// by the feed's reported decimals.
func (o *OracleClient) Rate(ctx context.Context, from, to string, chainID int64) (decimal.Decimal, error) {
	feedAddr, ok := o.feeds[feedKey(from, to, chainID)]
	if !ok {
		return decimal.Zero, fmt.Errorf("rates: no oracle feed for %s/%s on chain %d", from, to, chainID)
	}

	client, err := o.clientFor(ctx, chainID)
	if err != nil {
		return decimal.Zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	contract := common.HexToAddress(feedAddr)

	decimalsRaw, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: selectorDecimals}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rates: oracle decimals() for %s: %w", feedAddr, err)
	}
	if len(decimalsRaw) < 32 {
		return decimal.Zero, fmt.Errorf("rates: oracle decimals() for %s: short return of %d bytes", feedAddr, len(decimalsRaw))
	}
	feedDecimals := new(big.Int).SetBytes(decimalsRaw[:32]).Int64()
	if feedDecimals < 0 || feedDecimals > 18 {
		return decimal.Zero, fmt.Errorf("rates: oracle %s reported %d decimals", feedAddr, feedDecimals)
	}

	answerRaw, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: selectorLatestAnswer}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rates: oracle latestAnswer() for %s: %w", feedAddr, err)
	}
	if len(answerRaw) < 32 {
		return decimal.Zero, fmt.Errorf("rates: oracle latestAnswer() for %s: short return of %d bytes", feedAddr, len(answerRaw))
	}
	// latestAnswer() returns an int256; a negative answer arrives in two's
	// complement and must not decode as a huge positive value.
	answer := new(big.Int).SetBytes(answerRaw[:32])
	if answerRaw[0]&0x80 != 0 {
		answer.Sub(answer, new(big.Int).Lsh(big.NewInt(1), 256))
	}

	rate := decimal.NewFromBigInt(answer, -int32(feedDecimals))
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rates: oracle %s returned non-positive answer %s", feedAddr, rate)
	}
	return rate, nil
}

func (o *OracleClient) clientFor(ctx context.Context, chainID int64) (contractCaller, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if client, ok := o.clients[chainID]; ok {
		return client, nil
	}
	url, ok := o.rpcURLs[chainID]
	if !ok {
		return nil, fmt.Errorf("rates: no RPC endpoint configured for chain %d", chainID)
	}
	client, err := o.dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("rates: dial chain %d: %w", chainID, err)
	}
	o.clients[chainID] = client
	return client, nil
}

func feedKey(from, to string, chainID int64) string {
	return fmt.Sprintf("%s:%s:%d", strings.ToUpper(from), strings.ToUpper(to), chainID)
}
