package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/service"
)

// marketsFile is the YAML layout of MARKETS_FILE.
type marketsFile struct {
	Markets  []marketEntry       `yaml:"markets"`
	Relayers map[string][]string `yaml:"relayers"`
	Genesis  []genesisEntry      `yaml:"genesis"`
}

type marketEntry struct {
	ID             string `yaml:"id"`
	BaseAsset      string `yaml:"base_asset"`
	QuoteAsset     string `yaml:"quote_asset"`
	BaseDecimals   int32  `yaml:"base_decimals"`
	QuoteDecimals  int32  `yaml:"quote_decimals"`
	SizePrecision  int64  `yaml:"size_precision"`
	PricePrecision int64  `yaml:"price_precision"`
	TickSize       int64  `yaml:"tick_size"`
	MinSize        int64  `yaml:"min_size"`
	MaxSize        int64  `yaml:"max_size"`
	TakerFeeBps    int64  `yaml:"taker_fee_bps"`
	MakerFeeBps    int64  `yaml:"maker_fee_bps"`
	VaultSpreadBps int64  `yaml:"vault_spread_bps"`
	VaultDepthBps  int64  `yaml:"vault_depth_bps"`
	VaultCurve     string `yaml:"vault_curve"`
	FeeCollector   string `yaml:"fee_collector"`
}

type genesisEntry struct {
	Account string `yaml:"account"`
	Asset   string `yaml:"asset"`
	Amount  string `yaml:"amount"`
}

// GenesisBalance is a wallet balance minted at startup, in atoms.
type GenesisBalance struct {
	Account string
	Asset   string
	Amount  decimal.Decimal
}

// Markets is the validated content of a markets file.
type Markets struct {
	Markets  []domain.MarketConfig
	Relayers map[string][]service.Operation
	Genesis  []GenesisBalance
}

// LoadMarkets reads and validates the markets file at path.
func LoadMarkets(path string) (*Markets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markets file: %w", err)
	}
	return ParseMarkets(data)
}

// ParseMarkets validates a markets document. Market ids must be unique and
// genesis balances must name an asset traded by some market.
func ParseMarkets(data []byte) (*Markets, error) {
	var f marketsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse markets file: %w", err)
	}
	if len(f.Markets) == 0 {
		return nil, fmt.Errorf("markets file defines no markets")
	}

	out := &Markets{Relayers: make(map[string][]service.Operation, len(f.Relayers))}
	ids := make(map[string]bool, len(f.Markets))
	assets := make(map[string]bool)
	for i, e := range f.Markets {
		cfg := e.toConfig()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("market %d (%s): %w", i, e.ID, err)
		}
		if ids[cfg.ID] {
			return nil, fmt.Errorf("market %s defined twice", cfg.ID)
		}
		ids[cfg.ID] = true
		assets[cfg.BaseAsset] = true
		assets[cfg.QuoteAsset] = true
		out.Markets = append(out.Markets, cfg)
	}

	for relayer, names := range f.Relayers {
		ops := make([]service.Operation, 0, len(names))
		for _, name := range names {
			op, err := service.ParseOperation(name)
			if err != nil {
				return nil, fmt.Errorf("relayer %s: %w", relayer, err)
			}
			ops = append(ops, op)
		}
		out.Relayers[relayer] = ops
	}

	for i, g := range f.Genesis {
		amount, err := decimal.NewFromString(g.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis %d: invalid amount %q: %w", i, g.Amount, err)
		}
		if g.Account == "" || amount.Sign() <= 0 || !amount.IsInteger() {
			return nil, fmt.Errorf("genesis %d: account and a positive whole amount are required", i)
		}
		if !assets[g.Asset] {
			return nil, fmt.Errorf("genesis %d: %w: %s", i, domain.ErrUnknownAsset, g.Asset)
		}
		out.Genesis = append(out.Genesis, GenesisBalance{Account: g.Account, Asset: g.Asset, Amount: amount})
	}
	return out, nil
}

func (e marketEntry) toConfig() domain.MarketConfig {
	return domain.MarketConfig{
		ID:             e.ID,
		BaseAsset:      e.BaseAsset,
		QuoteAsset:     e.QuoteAsset,
		BaseDecimals:   e.BaseDecimals,
		QuoteDecimals:  e.QuoteDecimals,
		SizePrecision:  e.SizePrecision,
		PricePrecision: e.PricePrecision,
		TickSize:       e.TickSize,
		MinSize:        e.MinSize,
		MaxSize:        e.MaxSize,
		TakerFeeBps:    e.TakerFeeBps,
		MakerFeeBps:    e.MakerFeeBps,
		VaultSpreadBps: e.VaultSpreadBps,
		VaultDepthBps:  e.VaultDepthBps,
		VaultCurve:     domain.VaultCurve(e.VaultCurve),
		FeeCollector:   e.FeeCollector,
	}
}
