package model

// TokenDescriptor is one entry of the static token list an account snapshot
// is built from.
type TokenDescriptor struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals int    `yaml:"decimals" json:"decimals"`
	Address  string `yaml:"address" json:"address"`
	// PriceID is the price-source identifier (e.g. the CoinGecko coin id).
	PriceID string `yaml:"price_id" json:"priceId"`
}

// STRK and ETH share the same address on mainnet, sepolia and devnet.
const (
	StarknetSTRKAddress = "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d"
	StarknetETHAddress  = "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7"

	MainnetUSDCAddress = "0x053c91253bc9682c04929ca02ed00b3e423f6710d2ee7e0d5ebb06f3ecf368a8"
	MainnetWBTCAddress = "0x03fe2b97c1fd336e750087d68b9b867997fd64a2661ff3ca5a7c771641e8e7ac"
)

// DefaultTokens is used when no token list file is configured. Mainnet adds
// the bridged stablecoin and BTC contracts that only exist there.
func DefaultTokens(n Network) []TokenDescriptor {
	tokens := []TokenDescriptor{
		{Symbol: "STRK", Decimals: 18, Address: StarknetSTRKAddress, PriceID: "starknet"},
		{Symbol: "ETH", Decimals: 18, Address: StarknetETHAddress, PriceID: "ethereum"},
	}
	if n == NetworkMainnet {
		tokens = append(tokens,
			TokenDescriptor{Symbol: "USDC", Decimals: 6, Address: MainnetUSDCAddress, PriceID: "usd-coin"},
			TokenDescriptor{Symbol: "WBTC", Decimals: 8, Address: MainnetWBTCAddress, PriceID: "wrapped-bitcoin"},
		)
	}
	return tokens
}
