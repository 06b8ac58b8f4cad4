package scraper

import "testing"

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"$59.99", 5999},
		{"$5.00", 500},
		{"$1,234.56", 123456},
		{" $899.99 ", 89999},
		{"$45", 4500},
		{"$59.99 - $79.99", 5999},
	}
	for _, c := range cases {
		got, err := ParsePrice(c.in)
		if err != nil {
			t.Errorf("ParsePrice(%q) error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParsePrice(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParsePrice_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "Sold Out", "$", "$59.9"} {
		if got, err := ParsePrice(in); err == nil {
			t.Errorf("ParsePrice(%q) = %d, expected error", in, got)
		}
	}
}
