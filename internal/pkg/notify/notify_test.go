package notify

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"caskwatch/internal/config"
)

func TestFormatUSD(t *testing.T) {
	cases := []struct {
		cents int
		want  string
	}{
		{0, "$0.00"},
		{5, "$0.05"},
		{5999, "$59.99"},
		{123456, "$1,234.56"},
		{100000000, "$1,000,000.00"},
		{-2999, "-$29.99"},
	}
	for _, c := range cases {
		if got := FormatUSD(c.cents); got != c.want {
			t.Errorf("FormatUSD(%d) = %q, want %q", c.cents, got, c.want)
		}
	}
}

func TestEmailNotifier_SkipsWhenUnconfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	n := NewEmailNotifier(&config.EmailConfig{}, logger)

	drop := PriceDrop{
		StoreName: "Total Wine",
		Name:      "Ardbeg 10-year-old",
		OldPrice:  6999,
		NewPrice:  5999,
	}
	// SMTP 未配置时应该静默跳过而不报错
	if err := n.SendPriceDrop(context.Background(), drop, "someone@example.com"); err != nil {
		t.Fatalf("expected nil error on unconfigured SMTP, got %v", err)
	}
}
