package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Memo values are "lastSeq|amount". A memo may only be replaced by one with
// a higher sequence, enforced server-side so two projector instances never
// regress each other's work.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local seq = tonumber(string.match(cur, '^(%d+)|'))
  if seq and seq >= tonumber(ARGV[1]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1] .. '|' .. ARGV[2])
return 1
`)

// BalanceCache implements usecase.BalanceCache using Redis. It memoizes the
// raw debit-minus-credit total per account keyed by the last applied line
// sequence. Losing the cache is harmless; the projector folds from the
// start on a miss.
type BalanceCache struct {
	client *redis.Client
	prefix string
}

// NewBalanceCache creates a new BalanceCache.
func NewBalanceCache(client *redis.Client) *BalanceCache {
	return &BalanceCache{
		client: client,
		prefix: "ledger:balance:",
	}
}

// Get retrieves the memoized raw balance and its sequence for an account.
func (c *BalanceCache) Get(ctx context.Context, accountCode string) (decimal.Decimal, int64, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+accountCode).Result()
	if err != nil {
		if err == redis.Nil {
			return decimal.Zero, 0, false, nil
		}

		return decimal.Zero, 0, false, err
	}

	seqPart, amountPart, found := strings.Cut(value, "|")
	if !found {
		return decimal.Zero, 0, false, fmt.Errorf("malformed balance memo %q", value)
	}

	lastSeq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return decimal.Zero, 0, false, fmt.Errorf("malformed balance memo %q: %w", value, err)
	}

	raw, err := decimal.NewFromString(amountPart)
	if err != nil {
		return decimal.Zero, 0, false, fmt.Errorf("malformed balance memo %q: %w", value, err)
	}

	return raw, lastSeq, true, nil
}

// Set stores the memo only if lastSeq extends the cached one.
func (c *BalanceCache) Set(ctx context.Context, accountCode string, raw decimal.Decimal, lastSeq int64) error {
	return setIfNewer.Run(ctx, c.client,
		[]string{c.prefix + accountCode},
		lastSeq, raw.String(),
	).Err()
}

// Purge deletes every memo under the balance prefix. A truncated ledger
// restarts sequences at zero, and the monotonic guard would pin any
// surviving memo in place.
func (c *BalanceCache) Purge(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}

	return iter.Err()
}
