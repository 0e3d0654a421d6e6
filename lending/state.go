package lending

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"openlend/crypto"
	"openlend/storage"
)

// EngineState is the persistence contract shared by the market engine, the
// risk engine and the reward engine. Get methods return (nil, nil) for absent
// records; lazily created entities are normalized by the callers.
type EngineState interface {
	GetMarket(symbol string) (*Market, error)
	PutMarket(market *Market) error
	ListMarkets() ([]string, error)

	GetPosition(symbol string, addr crypto.Address) (*AccountPosition, error)
	PutPosition(position *AccountPosition) error

	GetListing(symbol string) (*MarketListing, error)
	PutListing(symbol string, listing *MarketListing) error

	GetMembership(addr crypto.Address) ([]string, error)
	PutMembership(addr crypto.Address, markets []string) error

	GetRewardState(symbol string) (*RewardState, error)
	PutRewardState(state *RewardState) error

	GetRewardAccount(addr crypto.Address) (*RewardAccount, error)
	PutRewardAccount(account *RewardAccount) error
}

// Key prefixes for the ledger records. Layout: one JSON document per entity,
// addressed by (kind, market, account).
const (
	prefixMarket        = "lend/market/"
	prefixPosition      = "lend/pos/"
	prefixListing       = "lend/listing/"
	prefixMembership    = "lend/member/"
	prefixRewardState   = "lend/reward/market/"
	prefixRewardAccount = "lend/reward/acct/"
)

// KVState persists engine records as JSON documents in a storage.Database.
type KVState struct {
	db storage.Database
}

func NewKVState(db storage.Database) *KVState {
	return &KVState{db: db}
}

func (s *KVState) getJSON(key string, out any) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *KVState) putJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.Put([]byte(key), raw)
}

func addrKey(addr crypto.Address) string {
	return hex.EncodeToString(addr.Bytes())
}

func (s *KVState) GetMarket(symbol string) (*Market, error) {
	var m Market
	ok, err := s.getJSON(prefixMarket+symbol, &m)
	if err != nil || !ok {
		return nil, err
	}
	return normalizeMarket(&m), nil
}

func (s *KVState) PutMarket(market *Market) error {
	if market == nil || strings.TrimSpace(market.Symbol) == "" {
		return ErrInvalidParameter
	}
	return s.putJSON(prefixMarket+market.Symbol, market)
}

func (s *KVState) ListMarkets() ([]string, error) {
	keys, err := s.db.KeysWithPrefix([]byte(prefixMarket))
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(keys))
	for _, key := range keys {
		symbols = append(symbols, strings.TrimPrefix(string(key), prefixMarket))
	}
	return symbols, nil
}

func (s *KVState) GetPosition(symbol string, addr crypto.Address) (*AccountPosition, error) {
	var p AccountPosition
	ok, err := s.getJSON(prefixPosition+symbol+"/"+addrKey(addr), &p)
	if err != nil || !ok {
		return nil, err
	}
	return normalizePosition(&p), nil
}

func (s *KVState) PutPosition(position *AccountPosition) error {
	if position == nil || strings.TrimSpace(position.Market) == "" {
		return ErrInvalidParameter
	}
	return s.putJSON(prefixPosition+position.Market+"/"+addrKey(position.Address), position)
}

func (s *KVState) GetListing(symbol string) (*MarketListing, error) {
	var l MarketListing
	ok, err := s.getJSON(prefixListing+symbol, &l)
	if err != nil || !ok {
		return nil, err
	}
	return normalizeListing(&l), nil
}

func (s *KVState) PutListing(symbol string, listing *MarketListing) error {
	if listing == nil || strings.TrimSpace(symbol) == "" {
		return ErrInvalidParameter
	}
	return s.putJSON(prefixListing+symbol, listing)
}

func (s *KVState) GetMembership(addr crypto.Address) ([]string, error) {
	var markets []string
	ok, err := s.getJSON(prefixMembership+addrKey(addr), &markets)
	if err != nil || !ok {
		return nil, err
	}
	return markets, nil
}

func (s *KVState) PutMembership(addr crypto.Address, markets []string) error {
	return s.putJSON(prefixMembership+addrKey(addr), markets)
}

func (s *KVState) GetRewardState(symbol string) (*RewardState, error) {
	var rs RewardState
	ok, err := s.getJSON(prefixRewardState+symbol, &rs)
	if err != nil || !ok {
		return nil, err
	}
	return normalizeRewardState(&rs), nil
}

func (s *KVState) PutRewardState(state *RewardState) error {
	if state == nil || strings.TrimSpace(state.Market) == "" {
		return ErrInvalidParameter
	}
	return s.putJSON(prefixRewardState+state.Market, state)
}

func (s *KVState) GetRewardAccount(addr crypto.Address) (*RewardAccount, error) {
	var ra RewardAccount
	ok, err := s.getJSON(prefixRewardAccount+addrKey(addr), &ra)
	if err != nil || !ok {
		return nil, err
	}
	return normalizeRewardAccount(&ra), nil
}

func (s *KVState) PutRewardAccount(account *RewardAccount) error {
	if account == nil {
		return ErrInvalidParameter
	}
	return s.putJSON(prefixRewardAccount+addrKey(account.Address), account)
}
