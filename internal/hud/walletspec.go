package hud

import (
	"strings"

	"github.com/mr-tron/base58"

	"github.com/scoundrelhq/warchest/internal/errs"
)

// ValidPubkeyShape reports whether s looks like a Solana public key: base58,
// 32 to 44 characters, decoding to 32 bytes. This is a shape check only; no
// on-chain validation happens here.
func ValidPubkeyShape(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(raw) == 32
}

// ParseWalletSpec parses one --wallet argument of the form
// alias:pubkey[:color]. The alias must be non-empty and the pubkey must pass
// the shape check; the color tag is optional.
func ParseWalletSpec(raw string) (WalletSpec, error) {
	const op = "hud.parseWalletSpec"

	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return WalletSpec{}, errs.Errorf(errs.KindInvalidArgument, op,
			"want alias:pubkey[:color], got %q", raw)
	}

	spec := WalletSpec{
		Alias:  strings.TrimSpace(parts[0]),
		Pubkey: strings.TrimSpace(parts[1]),
	}
	if len(parts) == 3 {
		spec.Color = strings.TrimSpace(parts[2])
	}

	if spec.Alias == "" {
		return WalletSpec{}, errs.E(errs.KindInvalidArgument, op, "empty alias")
	}
	if !ValidPubkeyShape(spec.Pubkey) {
		return WalletSpec{}, errs.Errorf(errs.KindInvalidArgument, op,
			"pubkey %q is not base58 of 32 bytes", spec.Pubkey)
	}
	return spec, nil
}

// ParseWalletSpecs parses every raw entry, dropping malformed ones. The
// returned slice keeps input order; dropped entries come back separately so
// the caller can log them. Duplicate aliases keep the first occurrence.
func ParseWalletSpecs(raws []string) (specs []WalletSpec, dropped []string) {
	seen := make(map[string]bool, len(raws))
	for _, raw := range raws {
		spec, err := ParseWalletSpec(raw)
		if err != nil {
			dropped = append(dropped, raw)
			continue
		}
		if seen[spec.Alias] {
			dropped = append(dropped, raw)
			continue
		}
		seen[spec.Alias] = true
		specs = append(specs, spec)
	}
	return specs, dropped
}
