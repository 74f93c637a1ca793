package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// GasOptions parameterise the on-chain gas price source.
type GasOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// Gas reads the suggested gas price from an Ethereum RPC node, in gwei. The
// reading is chain-wide; the symbol argument only scopes logging.
type Gas struct {
	opts      GasOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewGas builds a gas price source.
func NewGas(opts GasOptions, logger zerolog.Logger) *Gas {
	return &Gas{opts: opts, logger: logger.With().Str("component", "gas_client").Logger()}
}

// Fetch implements Provider.
func (g *Gas) Fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if g.opts.RPCURL == "" {
		return decimal.Decimal{}, errors.New("ethereum rpc url not configured")
	}

	timeout := g.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := g.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	wei, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	gwei := decimal.NewFromBigInt(wei, -9)
	g.logger.Debug().Str("symbol", symbol).Str("gwei", gwei.String()).Msg("gas price fetched")
	return gwei, nil
}

func (g *Gas) getClient(ctx context.Context) (*ethclient.Client, error) {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()

	if g.client != nil {
		return g.client, nil
	}

	client, err := ethclient.DialContext(ctx, g.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	g.client = client
	return client, nil
}

var _ Provider = (*Gas)(nil)
