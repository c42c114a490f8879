package ledger

import (
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want Amount
	}{
		{in: "10 EUR", want: NewAmount(1000, "EUR")},
		{in: "10.5 eur", want: NewAmount(1050, "EUR")},
		{in: "-5 EUR", want: NewAmount(-500, "EUR")},
		{in: "0 USD", want: NewAmount(0, "USD")},
		{in: "250 JPY", want: NewAmount(250, "JPY")},
		{in: "  1.25   GBP ", want: NewAmount(125, "GBP")},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseAmount(%q)=%+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestParseAmountErrors(t *testing.T) {
	for _, in := range []string{"", "10", "EUR", "ten EUR", "10 ZZZ", "1.005 EUR", "1.5 JPY", "10 EUR extra", "99999999999999999999 EUR"} {
		if _, err := ParseAmount(in); !errors.Is(err, ErrAmountParse) {
			t.Fatalf("ParseAmount(%q): expected amount parse error, got %v", in, err)
		}
	}
}

func TestAmountString(t *testing.T) {
	if got := NewAmount(1050, "EUR").String(); got != "10.50 EUR" {
		t.Fatalf("unexpected %q", got)
	}
	if got := NewAmount(-7, "JPY").String(); got != "-7 JPY" {
		t.Fatalf("unexpected %q", got)
	}
	back, err := ParseAmount(NewAmount(1, "USD").String())
	if err != nil || back != NewAmount(1, "USD") {
		t.Fatalf("formatted amount should parse back, got %+v %v", back, err)
	}
}
