package config

// TransportType defines MCP server transport types
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses streamable HTTP JSON-RPC
	TransportTypeHTTP TransportType = "streamable_http"
	// TransportTypeSSE uses Server-Sent Events
	TransportTypeSSE TransportType = "sse"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP || t == TransportTypeSSE
}

// MarketCategory identifies the market a symbol trades in.
type MarketCategory string

const (
	// MarketCategoryCNStock is mainland China A-shares
	MarketCategoryCNStock MarketCategory = "cn_stock"
	// MarketCategoryHKStock is Hong Kong listed equity
	MarketCategoryHKStock MarketCategory = "hk_stock"
	// MarketCategoryUSStock is US listed equity
	MarketCategoryUSStock MarketCategory = "us_stock"
)

// IsValid checks if the market category is valid
func (m MarketCategory) IsValid() bool {
	return m == MarketCategoryCNStock || m == MarketCategoryHKStock || m == MarketCategoryUSStock
}

// ProviderName identifies a market data provider adapter.
type ProviderName string

const (
	// ProviderTushare is the token-gated Tushare Pro HTTP API
	ProviderTushare ProviderName = "tushare"
	// ProviderAKShare is the AKShare HTTP gateway (AKTools)
	ProviderAKShare ProviderName = "akshare"
	// ProviderBaostock is the Baostock HTTP gateway
	ProviderBaostock ProviderName = "baostock"
)

// IsValid checks if the provider name is valid
func (p ProviderName) IsValid() bool {
	return p == ProviderTushare || p == ProviderAKShare || p == ProviderBaostock
}

// ResolutionStrategy selects how cross-provider inconsistencies resolve.
type ResolutionStrategy string

const (
	ResolutionUsePrimary    ResolutionStrategy = "use_primary"
	ResolutionUseSecondary  ResolutionStrategy = "use_secondary"
	ResolutionMerge         ResolutionStrategy = "merge"
	ResolutionFlagForReview ResolutionStrategy = "flag_for_review"
)

// IsValid checks if the resolution strategy is valid
func (s ResolutionStrategy) IsValid() bool {
	switch s {
	case ResolutionUsePrimary, ResolutionUseSecondary, ResolutionMerge, ResolutionFlagForReview:
		return true
	default:
		return false
	}
}
