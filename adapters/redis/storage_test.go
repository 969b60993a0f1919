package redis

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levelkit/core"
)

var alice = core.MemberKey{Community: "g1", User: "alice"}

// newTestClient spins up a miniredis server and returns a client plus cleanup.
func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return client, mr, cleanup
}

func TestStore_EnsureMember(t *testing.T) {
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()

	exists, err := store.MemberExists(ctx, alice)
	require.NoError(t, err)
	assert.False(t, exists)

	created, err := store.EnsureMember(ctx, alice)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.EnsureMember(ctx, alice)
	require.NoError(t, err)
	assert.False(t, created)

	exists, err = store.MemberExists(ctx, alice)
	require.NoError(t, err)
	assert.True(t, exists)

	entries, err := store.Entries(ctx, alice)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, core.EntryCreated, entries[0].Kind)
	assert.Equal(t, int64(0), entries[0].Amount)
}

func TestStore_AppendAndSum(t *testing.T) {
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	_, err := store.EnsureMember(ctx, alice)
	require.NoError(t, err)

	total, err := store.Append(ctx, core.NewEntry(alice, core.EntryAwarded, 50, core.ActorRef("mod")))
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)

	total, err = store.Append(ctx, core.NewEntry(alice, core.EntryEarned, 25, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(75), total)

	sum, err := store.Sum(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(75), sum)

	entries, err := store.Entries(ctx, alice)
	require.NoError(t, err)
	folded, err := core.Fold(entries)
	require.NoError(t, err)
	assert.Equal(t, sum, folded)
	require.NotNil(t, entries[1].Actor)
	assert.Equal(t, core.UserID("mod"), *entries[1].Actor)
}

func TestStore_AppendOverflowWritesNothing(t *testing.T) {
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	_, err := store.Append(ctx, core.NewEntry(alice, core.EntryAwarded, math.MaxInt64, nil))
	require.NoError(t, err)

	_, err = store.Append(ctx, core.NewEntry(alice, core.EntryAwarded, 1, nil))
	require.Error(t, err)

	entries, err := store.Entries(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	sum, _ := store.Sum(ctx, alice)
	assert.Equal(t, int64(math.MaxInt64), sum)
}

func TestStore_Reclaim(t *testing.T) {
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	_, _ = store.EnsureMember(ctx, alice)
	_, err := store.Append(ctx, core.NewEntry(alice, core.EntryAwarded, 300, nil))
	require.NoError(t, err)

	rec, total, err := store.Reclaim(ctx, alice, core.ReclaimAmount{N: 100}, core.ActorRef("mod"))
	require.NoError(t, err)
	assert.Equal(t, int64(-100), rec.Amount)
	assert.Equal(t, int64(200), total)

	rec, total, err = store.Reclaim(ctx, alice, core.ReclaimAmount{N: 400}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-200), rec.Amount)
	assert.Equal(t, int64(0), total)

	rec, total, err = store.Reclaim(ctx, alice, core.ReclaimAll{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Amount)
	assert.Equal(t, int64(0), total)

	entries, err := store.Entries(ctx, alice)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, rec.ID, entries[4].ID)
	assert.True(t, rec.OccurredAt.Equal(entries[4].OccurredAt))

	_, _, err = store.Reclaim(ctx, alice, core.ReclaimAmount{N: 0}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestStore_ConcurrentReclaim(t *testing.T) {
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	_, _ = store.Append(ctx, core.NewEntry(alice, core.EntryAwarded, 100, nil))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		taken int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, total, err := store.Reclaim(ctx, alice, core.ReclaimAmount{N: 15}, nil)
			if !assert.NoError(t, err) {
				return
			}
			assert.GreaterOrEqual(t, total, int64(0))
			mu.Lock()
			taken -= rec.Amount
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), taken)
	sum, _ := store.Sum(ctx, alice)
	assert.Equal(t, int64(0), sum)
}

func TestStore_Sums(t *testing.T) {
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	bob := core.MemberKey{Community: "g1", User: "bob"}
	_, _ = store.EnsureMember(ctx, alice)
	_, _ = store.EnsureMember(ctx, bob)
	_, _ = store.Append(ctx, core.NewEntry(bob, core.EntryAwarded, 9, nil))
	_, _ = store.EnsureMember(ctx, core.MemberKey{Community: "g2", User: "carol"})

	sums, err := store.Sums(ctx, "g1")
	require.NoError(t, err)
	got := map[core.UserID]int64{}
	for _, e := range sums {
		got[e.User] = e.Score
	}
	assert.Equal(t, map[core.UserID]int64{"alice": 0, "bob": 9}, got)

	empty, err := store.Sums(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_SettingsCache(t *testing.T) {
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()

	st, err := store.CommunitySettings(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, core.DefaultCurve(), st.Curve)

	// Check cache was created
	exists, err := client.Exists(ctx, store.settingsCacheKey("g1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	// Modify underlying data directly (simulating external change)
	require.NoError(t, client.HSet(ctx, store.settingsKey("g1"), "base", 1).Err())
	st, err = store.CommunitySettings(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.Curve.Base) // Should be cached value

	// Writes through the store invalidate the cache
	ch := core.ChannelID("audit")
	require.NoError(t, store.SetLevelCurve(ctx, "g1", core.LevelCurve{Base: 200, Modifier: 10, Amount: 3}))
	require.NoError(t, store.SetLogChannel(ctx, "g1", &ch))
	st, err = store.CommunitySettings(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, core.LevelCurve{Base: 200, Modifier: 10, Amount: 3}, st.Curve)
	require.NotNil(t, st.LogChannel)
	assert.Equal(t, ch, *st.LogChannel)

	require.NoError(t, store.SetLogChannel(ctx, "g1", nil))
	st, _ = store.CommunitySettings(ctx, "g1")
	assert.Nil(t, st.LogChannel)
}

func TestStore_SettingsWriteDuringCacheFill(t *testing.T) {
	client, mr, cleanup := newTestClient(t)
	defer cleanup()

	reader := NewWithClient(client)
	writer := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer writer.Close()
	ctx := context.Background()
	updated := core.LevelCurve{Base: 7, Modifier: 3, Amount: 1}

	var once sync.Once
	reader.afterSettingsRead = func() {
		once.Do(func() { require.NoError(t, writer.SetLevelCurve(ctx, "g1", updated)) })
	}

	// the read that raced the write may report the old curve but must not cache it
	st, err := reader.CommunitySettings(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, core.DefaultCurve(), st.Curve)
	assert.False(t, mr.Exists(reader.settingsCacheKey("g1")))

	st, err = reader.CommunitySettings(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, updated, st.Curve)
	assert.True(t, mr.Exists(reader.settingsCacheKey("g1")))
}

func TestStore_SettingsCacheExpires(t *testing.T) {
	client, mr, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	_, err := store.CommunitySettings(ctx, "g1")
	require.NoError(t, err)

	mr.FastForward(settingsCacheTTL + time.Second)
	exists, err := client.Exists(ctx, store.settingsCacheKey("g1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestStore_Rewards(t *testing.T) {
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	msg := "congrats"

	isNew, err := store.UpsertReward(ctx, "g1", core.RewardThreshold{Role: "r10", Level: 10, Message: &msg})
	require.NoError(t, err)
	assert.True(t, isNew)
	_, err = store.UpsertReward(ctx, "g1", core.RewardThreshold{Role: "r5", Level: 5})
	require.NoError(t, err)
	isNew, err = store.UpsertReward(ctx, "g1", core.RewardThreshold{Role: "r10", Level: 8, Message: &msg})
	require.NoError(t, err)
	assert.False(t, isNew)

	rewards, err := store.Rewards(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, rewards, 2)
	assert.Equal(t, core.RoleID("r5"), rewards[0].Role)
	assert.Equal(t, int64(8), rewards[1].Level)
	assert.Equal(t, msg, *rewards[1].Message)

	removed, err := store.RemoveReward(ctx, "g1", "r5")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.RemoveReward(ctx, "g1", "r5")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestStore_Exemptions(t *testing.T) {
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()

	require.NoError(t, store.SetExempt(ctx, "g1", core.ExemptMember, "alice", true))
	require.NoError(t, store.SetExempt(ctx, "g1", core.ExemptRole, "bots", true))
	require.NoError(t, store.SetExempt(ctx, "g1", core.ExemptChannel, "spam", true))
	require.NoError(t, store.SetExempt(ctx, "g1", core.ExemptMember, "alice", false))

	set, err := store.Exemptions(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, set.Members)
	assert.Contains(t, set.Roles, core.RoleID("bots"))
	assert.Contains(t, set.Channels, core.ChannelID("spam"))

	assert.ErrorIs(t, store.SetExempt(ctx, "g1", "nope", "x", true), core.ErrInvalidArgument)
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "localhost:6379", config.Addr)
	assert.Equal(t, "", config.Password)
	assert.Equal(t, 0, config.DB)
	assert.Equal(t, 10, config.PoolSize)
	assert.Equal(t, 2, config.MinIdleConns)
	assert.Equal(t, 5*time.Second, config.DialTimeout)
	assert.Equal(t, 3*time.Second, config.ReadTimeout)
	assert.Equal(t, 3*time.Second, config.WriteTimeout)
	assert.Equal(t, "levelkit", config.KeyPrefix)
}
