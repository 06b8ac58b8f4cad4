package scraper

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePrice 把商品页上的价格文本（如 "$59.99"、"$1,234.00"）转换为
// 最小货币单位（美分）。无法识别时返回错误，调用方跳过该条目。
func ParsePrice(text string) (int, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}

	// 有些站点写成 "$59.99 - $79.99"（规格区间），取第一个价格
	if idx := strings.IndexAny(s, "-–"); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}

	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("invalid price %q", text)
	}

	dollars := s
	cents := "00"
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		dollars = s[:idx]
		cents = s[idx+1:]
		if len(cents) != 2 {
			return 0, fmt.Errorf("invalid price %q", text)
		}
	}
	if dollars == "" {
		dollars = "0"
	}

	d, err := strconv.Atoi(dollars)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid price %q", text)
	}
	c, err := strconv.Atoi(cents)
	if err != nil || c < 0 {
		return 0, fmt.Errorf("invalid price %q", text)
	}

	return d*100 + c, nil
}
