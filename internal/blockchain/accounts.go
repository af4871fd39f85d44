package blockchain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/errs"
)

const (
	// tokenAccountPageSize is the per-page limit sent upstream.
	tokenAccountPageSize = 500
	// tokenAccountPageMax bounds one full fetch; a wallet past this many
	// pages is reported truncated rather than walked forever.
	tokenAccountPageMax = 10
)

// TokenAccountLister is the one-page listing dependency of the full fetch.
// *Client satisfies it.
type TokenAccountLister interface {
	GetTokenAccountsByOwnerV2(ctx context.Context, owner string, opts V2Options) (*V2Page, error)
}

// FetchAllTokenAccounts walks every page of the owner's token accounts,
// deduplicating by account pubkey. Truncated is set when the upstream
// reports more rows without a cursor to reach them, or when the page
// cap is hit with a live cursor still in hand.
func FetchAllTokenAccounts(ctx context.Context, lister TokenAccountLister, owner string, logger *zap.Logger) (*FetchResult, error) {
	const op = "blockchain.fetchAllTokenAccounts"

	if owner == "" {
		return nil, errs.E(errs.KindInvalidArgument, op, "owner is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	res := &FetchResult{}
	defer func() {
		// The count falls back to what was collected when no page
		// carried an upstream total.
		if res.TotalCount == 0 {
			res.TotalCount = len(res.Accounts)
		}
	}()
	seen := make(map[string]struct{})
	cursor := ""

	for {
		page, err := lister.GetTokenAccountsByOwnerV2(ctx, owner, V2Options{
			Limit:         tokenAccountPageSize,
			ExcludeZero:   true,
			PaginationKey: cursor,
		})
		if err != nil {
			return nil, err
		}

		res.PageCount++
		if page.TotalCount > 0 {
			res.TotalCount = page.TotalCount
		}
		for _, acc := range page.Accounts {
			if _, dup := seen[acc.Pubkey]; dup {
				continue
			}
			seen[acc.Pubkey] = struct{}{}
			res.Accounts = append(res.Accounts, acc)
		}

		if !page.HasMore {
			return res, nil
		}
		cursor = page.NextCursor
		if cursor == "" {
			// Upstream claims more rows but gave nothing to page with.
			res.Truncated = true
			return res, nil
		}
		if res.PageCount >= tokenAccountPageMax {
			res.Truncated = true
			logger.Warn("Token account listing stopped at page cap",
				zap.String("owner", owner),
				zap.Int("pages", res.PageCount),
				zap.Int("collected", len(res.Accounts)))
			return res, nil
		}
	}
}

// IsToken2022 reports whether the account belongs to the Token-2022 program.
func (a TokenAccount) IsToken2022() bool {
	return a.ProgramID == solana.Token2022ProgramID.String()
}

// v2Response mirrors the getTokenAccountsByOwnerV2 result envelope.
type v2Response struct {
	Accounts   []v2Account `json:"accounts"`
	HasMore    bool        `json:"hasMore"`
	NextCursor string      `json:"nextCursor"`
	TotalCount int         `json:"totalCount"`
}

type v2Account struct {
	Pubkey  string `json:"pubkey"`
	Account struct {
		Owner    string          `json:"owner"`
		Lamports uint64          `json:"lamports"`
		Data     json.RawMessage `json:"data"`
	} `json:"account"`
}

// parseTokenAccount decodes one listing row. The server answers with either
// the jsonParsed layout or a base64 tuple; both are handled, the latter via
// the SPL token account layout.
func parseTokenAccount(raw v2Account) (TokenAccount, error) {
	acc := TokenAccount{
		Pubkey:    raw.Pubkey,
		ProgramID: raw.Account.Owner,
	}
	if len(raw.Account.Data) == 0 {
		return acc, fmt.Errorf("account %s has no data", raw.Pubkey)
	}

	var parsed struct {
		Parsed struct {
			Type string `json:"type"`
			Info struct {
				Mint        string `json:"mint"`
				Owner       string `json:"owner"`
				TokenAmount struct {
					Amount   string   `json:"amount"`
					Decimals int      `json:"decimals"`
					UiAmount *float64 `json:"uiAmount"`
				} `json:"tokenAmount"`
			} `json:"info"`
		} `json:"parsed"`
	}
	if err := json.Unmarshal(raw.Account.Data, &parsed); err == nil && parsed.Parsed.Info.Mint != "" {
		info := parsed.Parsed.Info
		acc.Mint = info.Mint
		acc.Owner = info.Owner
		if v, perr := strconv.ParseUint(info.TokenAmount.Amount, 10, 64); perr == nil {
			acc.RawAmount = v
		}
		dec := info.TokenAmount.Decimals
		acc.Decimals = &dec
		if info.TokenAmount.UiAmount != nil {
			acc.UiAmount = info.TokenAmount.UiAmount
		} else {
			ui := float64(acc.RawAmount) / math.Pow10(dec)
			acc.UiAmount = &ui
		}
		return acc, nil
	}

	var tuple []string
	if err := json.Unmarshal(raw.Account.Data, &tuple); err != nil || len(tuple) == 0 {
		return acc, fmt.Errorf("account %s: unrecognized data encoding", raw.Pubkey)
	}
	blob, err := base64.StdEncoding.DecodeString(tuple[0])
	if err != nil {
		return acc, fmt.Errorf("account %s: bad base64 payload: %w", raw.Pubkey, err)
	}
	var ta token.Account
	if err := bin.NewBinDecoder(blob).Decode(&ta); err != nil {
		return acc, fmt.Errorf("account %s: decode token layout: %w", raw.Pubkey, err)
	}
	acc.Mint = ta.Mint.String()
	acc.Owner = ta.Owner.String()
	acc.RawAmount = ta.Amount
	return acc, nil
}
