// Package market implements the data provider layer: one adapter per
// upstream source (tushare, akshare, baostock) and an orchestrator that
// tries them in priority order with write-through quote caching.
package market

import "strings"

// SymbolInfo is the derived classification for one A-share code.
type SymbolInfo struct {
	Code       string // six-digit code, zero-padded
	FullSymbol string // exchange-suffixed, e.g. "000001.SZ"
	Exchange   string // SH / SZ / BJ
	MarketName string // 主板 / 中小板 / 创业板 / 科创板 / 北交所 / 新三板 / 未知
	Currency   string // CNY for A-shares
}

// NormalizeCode reduces a raw provider code to the canonical six-digit form.
// Handles exchange-prefixed codes ("sz000001", "SH600036"), strips
// non-digits, drops leading zeros, and re-pads to six digits. Returns ""
// when no digits remain.
func NormalizeCode(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) > 6 {
		s = digitsOnly(s)
	}
	if !isDigits(s) {
		s = digitsOnly(s)
	}
	if s == "" {
		return ""
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	return pad6(trimmed)
}

// Classify derives exchange, market segment, and currency from a code.
// Prefix rules: 60/68/90 → SH, 00/30/20 → SZ, 8/4 → BJ; unknown prefixes
// default to SZ like the upstream listing feeds do.
func Classify(raw string) SymbolInfo {
	code := pad6(strings.TrimSpace(raw))
	info := SymbolInfo{Code: code, Currency: "CNY"}

	switch {
	case hasPrefix(code, "60", "68", "90"):
		info.Exchange = "SH"
	case hasPrefix(code, "00", "30", "20"):
		info.Exchange = "SZ"
	case hasPrefix(code, "8", "4"):
		info.Exchange = "BJ"
	default:
		info.Exchange = "SZ"
	}
	info.FullSymbol = code + "." + info.Exchange

	switch {
	case strings.HasPrefix(code, "000"):
		info.MarketName = "主板"
	case strings.HasPrefix(code, "002"):
		info.MarketName = "中小板"
	case strings.HasPrefix(code, "300"):
		info.MarketName = "创业板"
	case strings.HasPrefix(code, "688"):
		info.MarketName = "科创板"
	case strings.HasPrefix(code, "60"):
		info.MarketName = "主板"
	case strings.HasPrefix(code, "8"):
		info.MarketName = "北交所"
	case strings.HasPrefix(code, "4"):
		info.MarketName = "新三板"
	default:
		info.MarketName = "未知"
	}

	return info
}

// FullSymbol returns the exchange-suffixed form ("600519.SH") for a raw code.
func FullSymbol(raw string) string {
	return Classify(NormalizeCode(raw)).FullSymbol
}

// MarketPrefix returns the lowercase exchange prefix ("sh", "sz", "bj")
// used by minute-bar and index endpoints. Defaults to "sh".
func MarketPrefix(fullSymbol string) string {
	switch {
	case strings.HasSuffix(fullSymbol, ".SH"):
		return "sh"
	case strings.HasSuffix(fullSymbol, ".SZ"):
		return "sz"
	case strings.HasSuffix(fullSymbol, ".BJ"):
		return "bj"
	}
	return "sh"
}

// BaostockCode returns the dotted lowercase form ("sh.600519") baostock
// expects.
func BaostockCode(raw string) string {
	info := Classify(NormalizeCode(raw))
	return strings.ToLower(info.Exchange) + "." + info.Code
}

// BareCode strips an exchange suffix ("600519.SH" → "600519").
func BareCode(symbol string) string {
	if i := strings.IndexByte(symbol, '.'); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

func pad6(code string) string {
	if len(code) >= 6 {
		return code
	}
	return strings.Repeat("0", 6-len(code)) + code
}

func hasPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
