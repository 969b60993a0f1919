package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"levelkit/core"
	"levelkit/leaderboard"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"LEVELKIT_REDIS_ADDR"`
	Password     string        `json:"password" env:"LEVELKIT_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"LEVELKIT_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"LEVELKIT_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	// KeyPrefix namespaces every key written by the store.
	KeyPrefix string `json:"key_prefix" env:"LEVELKIT_REDIS_KEY_PREFIX"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "levelkit",
	}
}

// reclaimRetries bounds the optimistic WATCH loop in Reclaim.
const reclaimRetries = 32

// settingsCacheTTL is how long a decoded CommunitySettings stays cached.
const settingsCacheTTL = 5 * time.Minute

// Store implements the engine.Storage interface using Redis as the backend.
// Data structure, all keys prefixed with {prefix}:{community_id}:
//   - members -> set of user ids
//   - total:{user_id} -> int64, always equal to the sum of the ledger list
//   - ledger:{user_id} -> list of JSON ledger entries in append order
//   - settings -> hash of base, modifier, amount, log_channel
//   - settings:cache -> JSON CommunitySettings with a TTL
//   - rewards -> hash of role id to JSON {level, message}
//   - exempt:{member|role|channel} -> sets of ids
//
// Totals and ledger lists are written by one Lua script, so the
// materialized total never diverges from the fold of the list.
type Store struct {
	client *redis.Client
	prefix string

	// afterSettingsRead runs between the settings read and the cache write.
	afterSettingsRead func()
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewWithClient(client)
	if config.KeyPrefix != "" {
		s.prefix = config.KeyPrefix
	}
	return s, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, prefix: "levelkit"}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks connectivity for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) key(c core.CommunityID, parts ...string) string {
	k := s.prefix + ":" + string(c)
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *Store) membersKey(c core.CommunityID) string { return s.key(c, "members") }

func (s *Store) totalKey(m core.MemberKey) string { return s.key(m.Community, "total", string(m.User)) }

func (s *Store) ledgerKey(m core.MemberKey) string { return s.key(m.Community, "ledger", string(m.User)) }

func (s *Store) settingsKey(c core.CommunityID) string { return s.key(c, "settings") }

func (s *Store) settingsCacheKey(c core.CommunityID) string { return s.key(c, "settings", "cache") }

func (s *Store) rewardsKey(c core.CommunityID) string { return s.key(c, "rewards") }

func (s *Store) exemptKey(c core.CommunityID, kind core.ExemptionKind) string {
	return s.key(c, "exempt", string(kind))
}

// Lua script that registers a member and appends its created entry once.
var ensureMemberScript = redis.NewScript(`
	if redis.call('SADD', KEYS[1], ARGV[1]) == 0 then
		return 0
	end
	redis.call('SET', KEYS[2], 0, 'NX')
	redis.call('RPUSH', KEYS[3], ARGV[2])
	return 1
`)

func (s *Store) EnsureMember(ctx context.Context, m core.MemberKey) (bool, error) {
	raw, err := json.Marshal(core.NewEntry(m, core.EntryCreated, 0, nil))
	if err != nil {
		return false, err
	}
	keys := []string{s.membersKey(m.Community), s.totalKey(m), s.ledgerKey(m)}
	created, err := ensureMemberScript.Run(ctx, s.client, keys, string(m.User), raw).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to ensure member: %w", err)
	}
	return created == 1, nil
}

func (s *Store) MemberExists(ctx context.Context, m core.MemberKey) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.membersKey(m.Community), string(m.User)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check member: %w", err)
	}
	return ok, nil
}

// Lua script for an atomic ledger append. INCRBY runs first and aborts the
// script on int64 overflow before anything is written. The total is read
// back with GET so it reaches the client as an exact decimal string.
var appendScript = redis.NewScript(`
	redis.call('INCRBY', KEYS[2], ARGV[2])
	redis.call('SADD', KEYS[1], ARGV[1])
	redis.call('RPUSH', KEYS[3], ARGV[3])
	return redis.call('GET', KEYS[2])
`)

func (s *Store) appendArgs(e core.LedgerEntry) ([]string, []any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, nil, err
	}
	m := e.Member()
	keys := []string{s.membersKey(m.Community), s.totalKey(m), s.ledgerKey(m)}
	return keys, []any{string(m.User), strconv.FormatInt(e.Amount, 10), raw}, nil
}

func (s *Store) Append(ctx context.Context, e core.LedgerEntry) (int64, error) {
	keys, args, err := s.appendArgs(e)
	if err != nil {
		return 0, err
	}
	total, err := appendScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to append entry: %w", err)
	}
	return total, nil
}

func (s *Store) Sum(ctx context.Context, m core.MemberKey) (int64, error) {
	v, err := s.client.Get(ctx, s.totalKey(m)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read total: %w", err)
	}
	return v, nil
}

func (s *Store) Sums(ctx context.Context, c core.CommunityID) ([]leaderboard.Entry, error) {
	users, err := s.client.SMembers(ctx, s.membersKey(c)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	keys := make([]string, len(users))
	for i, u := range users {
		keys[i] = s.totalKey(core.MemberKey{Community: c, User: core.UserID(u)})
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read totals: %w", err)
	}
	out := make([]leaderboard.Entry, 0, len(users))
	for i, u := range users {
		var score int64
		if str, ok := vals[i].(string); ok {
			score, err = strconv.ParseInt(str, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("corrupt total for %s: %w", u, err)
			}
		}
		out = append(out, leaderboard.Entry{User: core.UserID(u), Score: score})
	}
	return out, nil
}

func (s *Store) Entries(ctx context.Context, m core.MemberKey) ([]core.LedgerEntry, error) {
	raws, err := s.client.LRange(ctx, s.ledgerKey(m), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	out := make([]core.LedgerEntry, 0, len(raws))
	for _, raw := range raws {
		var e core.LedgerEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("corrupt ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Reclaim watches the member total, clamps the debit against it and appends
// the reclaimed entry in one MULTI/EXEC. A concurrent write to the total
// aborts the transaction and the read is retried.
func (s *Store) Reclaim(ctx context.Context, m core.MemberKey, opt core.ReclaimOption, actor *core.UserID) (core.LedgerEntry, int64, error) {
	if err := core.ValidateReclaim(opt); err != nil {
		return core.LedgerEntry{}, 0, err
	}
	totalKey := s.totalKey(m)
	var (
		entry core.LedgerEntry
		total int64
	)
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, totalKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		debit, err := core.Debit(opt, current)
		if err != nil {
			return err
		}
		entry = core.NewEntry(m, core.EntryReclaimed, -debit, actor)
		keys, args, err := s.appendArgs(entry)
		if err != nil {
			return err
		}
		var cmd *redis.Cmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			cmd = appendScript.Eval(ctx, pipe, keys, args...)
			return nil
		})
		if err != nil {
			return err
		}
		total, err = cmd.Int64()
		return err
	}
	for i := 0; i < reclaimRetries; i++ {
		err := s.client.Watch(ctx, txf, totalKey)
		if err == nil {
			return entry, total, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return core.LedgerEntry{}, 0, fmt.Errorf("failed to reclaim: %w", err)
		}
	}
	return core.LedgerEntry{}, 0, fmt.Errorf("failed to reclaim: %w after %d attempts", redis.TxFailedErr, reclaimRetries)
}

// CommunitySettings serves the cached copy when present. On a miss the hash
// is read under WATCH and the cache is written in the same MULTI/EXEC, so a
// setter landing between the read and the write aborts the cache write
// instead of caching the values it replaced.
func (s *Store) CommunitySettings(ctx context.Context, c core.CommunityID) (core.CommunitySettings, error) {
	if cached, err := s.getCachedSettings(ctx, c); err == nil {
		return cached, nil
	}
	var (
		out     core.CommunitySettings
		decoded bool
	)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, s.settingsKey(c)).Result()
		if err != nil {
			return fmt.Errorf("failed to read settings: %w", err)
		}
		if out, err = decodeSettings(fields); err != nil {
			return err
		}
		decoded = true
		if s.afterSettingsRead != nil {
			s.afterSettingsRead()
		}
		data, err := json.Marshal(out)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.settingsCacheKey(c), data, settingsCacheTTL)
			return nil
		})
		return err
	}, s.settingsKey(c))
	// the cache write is best-effort once the hash has been decoded
	if err != nil && !decoded {
		return core.CommunitySettings{}, err
	}
	return out, nil
}

func decodeSettings(fields map[string]string) (core.CommunitySettings, error) {
	out := core.CommunitySettings{Curve: core.DefaultCurve()}
	for name, dst := range map[string]*int64{"base": &out.Curve.Base, "modifier": &out.Curve.Modifier, "amount": &out.Curve.Amount} {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return core.CommunitySettings{}, fmt.Errorf("corrupt settings field %s: %w", name, err)
		}
		*dst = v
	}
	if ch, ok := fields["log_channel"]; ok && ch != "" {
		id := core.ChannelID(ch)
		out.LogChannel = &id
	}
	return out, nil
}

func (s *Store) SetLevelCurve(ctx context.Context, c core.CommunityID, curve core.LevelCurve) error {
	err := s.client.HSet(ctx, s.settingsKey(c), "base", curve.Base, "modifier", curve.Modifier, "amount", curve.Amount).Err()
	if err != nil {
		return fmt.Errorf("failed to set level curve: %w", err)
	}
	s.invalidateSettingsCache(ctx, c)
	return nil
}

func (s *Store) SetLogChannel(ctx context.Context, c core.CommunityID, ch *core.ChannelID) error {
	var err error
	if ch == nil {
		err = s.client.HDel(ctx, s.settingsKey(c), "log_channel").Err()
	} else {
		err = s.client.HSet(ctx, s.settingsKey(c), "log_channel", string(*ch)).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to set log channel: %w", err)
	}
	s.invalidateSettingsCache(ctx, c)
	return nil
}

type rewardValue struct {
	Level   int64   `json:"level"`
	Message *string `json:"message,omitempty"`
}

func (s *Store) Rewards(ctx context.Context, c core.CommunityID) ([]core.RewardThreshold, error) {
	fields, err := s.client.HGetAll(ctx, s.rewardsKey(c)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rewards: %w", err)
	}
	out := make([]core.RewardThreshold, 0, len(fields))
	for role, raw := range fields {
		var v rewardValue
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("corrupt reward for role %s: %w", role, err)
		}
		out = append(out, core.RewardThreshold{Role: core.RoleID(role), Level: v.Level, Message: v.Message})
	}
	core.SortRewards(out)
	return out, nil
}

func (s *Store) UpsertReward(ctx context.Context, c core.CommunityID, r core.RewardThreshold) (bool, error) {
	raw, err := json.Marshal(rewardValue{Level: r.Level, Message: r.Message})
	if err != nil {
		return false, err
	}
	added, err := s.client.HSet(ctx, s.rewardsKey(c), string(r.Role), raw).Result()
	if err != nil {
		return false, fmt.Errorf("failed to upsert reward: %w", err)
	}
	return added == 1, nil
}

func (s *Store) RemoveReward(ctx context.Context, c core.CommunityID, role core.RoleID) (bool, error) {
	n, err := s.client.HDel(ctx, s.rewardsKey(c), string(role)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove reward: %w", err)
	}
	return n == 1, nil
}

func (s *Store) Exemptions(ctx context.Context, c core.CommunityID) (core.ExemptionSet, error) {
	pipe := s.client.Pipeline()
	members := pipe.SMembers(ctx, s.exemptKey(c, core.ExemptMember))
	roles := pipe.SMembers(ctx, s.exemptKey(c, core.ExemptRole))
	channels := pipe.SMembers(ctx, s.exemptKey(c, core.ExemptChannel))
	if _, err := pipe.Exec(ctx); err != nil {
		return core.ExemptionSet{}, fmt.Errorf("failed to read exemptions: %w", err)
	}
	set := core.NewExemptionSet()
	for _, id := range members.Val() {
		set.Members[core.UserID(id)] = struct{}{}
	}
	for _, id := range roles.Val() {
		set.Roles[core.RoleID(id)] = struct{}{}
	}
	for _, id := range channels.Val() {
		set.Channels[core.ChannelID(id)] = struct{}{}
	}
	return set, nil
}

func (s *Store) SetExempt(ctx context.Context, c core.CommunityID, kind core.ExemptionKind, id string, exempt bool) error {
	if !kind.Valid() {
		return core.InvalidArgumentf("unknown exemption kind %q", kind)
	}
	key := s.exemptKey(c, kind)
	var err error
	if exempt {
		err = s.client.SAdd(ctx, key, id).Err()
	} else {
		err = s.client.SRem(ctx, key, id).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to set exemption: %w", err)
	}
	return nil
}

// getCachedSettings attempts to retrieve the cached community settings
func (s *Store) getCachedSettings(ctx context.Context, c core.CommunityID) (core.CommunitySettings, error) {
	data, err := s.client.Get(ctx, s.settingsCacheKey(c)).Bytes()
	if err != nil {
		return core.CommunitySettings{}, err
	}
	var out core.CommunitySettings
	if err := json.Unmarshal(data, &out); err != nil {
		return core.CommunitySettings{}, err
	}
	return out, nil
}

// invalidateSettingsCache removes the cached settings
func (s *Store) invalidateSettingsCache(ctx context.Context, c core.CommunityID) {
	s.client.Del(ctx, s.settingsCacheKey(c))
}
