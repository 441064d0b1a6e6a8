package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitquest/core"
)

func TestSink_OnEventPostsToEndpoints(t *testing.T) {
	var hits int32
	var got core.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		b, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		_ = json.Unmarshal(b, &got)
		assert.Equal(t, "level_up", r.Header.Get("X-HabitQuest-Event"))
	}))
	defer srv.Close()

	sink := New([]string{srv.URL, srv.URL})
	sink.OnEvent(core.NewLevelUp("u1", 3))

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, core.ActorID("u1"), got.ActorID)
	assert.Equal(t, int64(3), got.Level)
}

func TestSink_FiltersEventTypes(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	sink := New([]string{srv.URL}, WithEventTypes(core.EventStoryCompleted))
	sink.OnEvent(core.NewLevelUp("u1", 3))
	sink.OnEvent(core.NewStoryCompleted("u1", "The Clean Keep"))

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestSink_FailuresDoNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	url := srv.URL
	srv.Close()

	sink := New([]string{url, "://bad"})
	require.NotPanics(t, func() { sink.OnEvent(core.NewLevelUp("u1", 2)) })
}
