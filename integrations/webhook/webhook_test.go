package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levelkit/core"
)

func reclaimed() core.Event {
	ch := core.ChannelID("audit")
	ev := core.NewScoreEvent(core.NewEntry(core.MemberKey{Community: "g1", User: "u1"}, core.EntryReclaimed, -5, core.ActorRef("mod")), 0)
	ev.Channel = &ch
	return ev
}

func TestSink_OnEventPostsToEndpoints(t *testing.T) {
	var hits int32
	var got core.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "xp_reclaimed", r.Header.Get("X-Levelkit-Event"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = r.Body.Close()
	}))
	defer srv.Close()

	sink := New([]string{srv.URL})
	sink.OnEvent(context.Background(), reclaimed())

	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
	require.NotNil(t, got.Channel)
	assert.Equal(t, core.ChannelID("audit"), *got.Channel)
	assert.Equal(t, int64(-5), got.Delta)
}

func TestSink_FiltersEventTypes(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	sink := New([]string{srv.URL}, WithEventTypes(core.EventLevelUp))
	require.NoError(t, sink.Deliver(context.Background(), reclaimed()))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestSink_ReportsFailedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New([]string{srv.URL}).Deliver(context.Background(), reclaimed())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
