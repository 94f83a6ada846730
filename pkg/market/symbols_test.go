package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "already normalized", raw: "600519", want: "600519"},
		{name: "shenzhen exchange prefix", raw: "sz000001", want: "000001"},
		{name: "shanghai exchange prefix", raw: "sh600036", want: "600036"},
		{name: "uppercase prefix", raw: "SH600036", want: "600036"},
		{name: "short code padded", raw: "1", want: "000001"},
		{name: "leading zeros preserved via repad", raw: "000001", want: "000001"},
		{name: "whitespace trimmed", raw: " 300750 ", want: "300750"},
		{name: "no digits", raw: "AAPL", want: ""},
		{name: "empty", raw: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCode(tt.raw))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code       string
		exchange   string
		fullSymbol string
		marketName string
	}{
		{code: "600519", exchange: "SH", fullSymbol: "600519.SH", marketName: "主板"},
		{code: "688981", exchange: "SH", fullSymbol: "688981.SH", marketName: "科创板"},
		{code: "900901", exchange: "SH", fullSymbol: "900901.SH", marketName: "未知"},
		{code: "000001", exchange: "SZ", fullSymbol: "000001.SZ", marketName: "主板"},
		{code: "002594", exchange: "SZ", fullSymbol: "002594.SZ", marketName: "中小板"},
		{code: "300750", exchange: "SZ", fullSymbol: "300750.SZ", marketName: "创业板"},
		{code: "830799", exchange: "BJ", fullSymbol: "830799.BJ", marketName: "北交所"},
		{code: "430047", exchange: "BJ", fullSymbol: "430047.BJ", marketName: "新三板"},
		{code: "100001", exchange: "SZ", fullSymbol: "100001.SZ", marketName: "未知"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			info := Classify(tt.code)
			assert.Equal(t, tt.exchange, info.Exchange)
			assert.Equal(t, tt.fullSymbol, info.FullSymbol)
			assert.Equal(t, tt.marketName, info.MarketName)
			assert.Equal(t, "CNY", info.Currency)
		})
	}
}

func TestSymbolHelpers(t *testing.T) {
	assert.Equal(t, "600519.SH", FullSymbol("sh600519"))
	assert.Equal(t, "sh", MarketPrefix("600519.SH"))
	assert.Equal(t, "sz", MarketPrefix("000001.SZ"))
	assert.Equal(t, "bj", MarketPrefix("830799.BJ"))
	assert.Equal(t, "sh", MarketPrefix("no-suffix"))
	assert.Equal(t, "sh.600519", BaostockCode("600519"))
	assert.Equal(t, "sz.000001", BaostockCode("sz000001"))
	assert.Equal(t, "600519", BareCode("600519.SH"))
	assert.Equal(t, "600519", BareCode("600519"))
}
