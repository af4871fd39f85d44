package hud

import (
	"testing"

	"github.com/scoundrelhq/warchest/internal/errs"
)

const (
	wsolMint   = "So11111111111111111111111111111111111111112"
	systemProg = "11111111111111111111111111111111"
)

func TestParseWalletSpec(t *testing.T) {
	spec, err := ParseWalletSpec("sniper:" + wsolMint + ":cyan")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if spec.Alias != "sniper" || spec.Pubkey != wsolMint || spec.Color != "cyan" {
		t.Errorf("spec = %+v", spec)
	}

	// Color is optional.
	spec, err = ParseWalletSpec("funding:" + systemProg)
	if err != nil {
		t.Fatalf("parse without color failed: %v", err)
	}
	if spec.Color != "" {
		t.Errorf("color = %q, want empty", spec.Color)
	}
}

func TestParseWalletSpecRejects(t *testing.T) {
	cases := []string{
		"",
		"justanalias",
		":" + wsolMint,
		"alias:notbase58!!",
		"alias:tooShort",
		"alias:" + wsolMint + ":color:extra",
		// 0, O, I, l are not in the base58 alphabet.
		"alias:O000000000000000000000000000000000000000000",
	}
	for _, raw := range cases {
		_, err := ParseWalletSpec(raw)
		if err == nil {
			t.Errorf("ParseWalletSpec(%q) succeeded, want error", raw)
			continue
		}
		if !errs.Is(err, errs.KindInvalidArgument) {
			t.Errorf("ParseWalletSpec(%q) kind = %v, want invalid_argument", raw, errs.KindOf(err))
		}
	}
}

func TestParseWalletSpecsDropsMalformedAndDuplicates(t *testing.T) {
	specs, dropped := ParseWalletSpecs([]string{
		"alpha:" + wsolMint + ":cyan",
		"broken",
		"alpha:" + systemProg, // duplicate alias keeps the first
		"bravo:" + systemProg,
	})

	if len(specs) != 2 {
		t.Fatalf("len(specs) = %d, want 2", len(specs))
	}
	if specs[0].Alias != "alpha" || specs[0].Pubkey != wsolMint {
		t.Errorf("first spec = %+v", specs[0])
	}
	if specs[1].Alias != "bravo" {
		t.Errorf("second spec = %+v", specs[1])
	}
	if len(dropped) != 2 {
		t.Errorf("dropped = %v, want 2 entries", dropped)
	}
}

func TestValidPubkeyShape(t *testing.T) {
	if !ValidPubkeyShape(wsolMint) {
		t.Error("wSOL mint rejected")
	}
	if !ValidPubkeyShape(systemProg) {
		t.Error("system program id rejected")
	}
	if ValidPubkeyShape("short") {
		t.Error("short string accepted")
	}
	if ValidPubkeyShape("") {
		t.Error("empty string accepted")
	}
}
