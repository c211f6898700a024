package session

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionValidatesPort(t *testing.T) {
	r := New("localhost:8787", time.Hour, "")
	_, err := r.CreateSession("dev1", 0, nil)
	require.Error(t, err)
	_, err = r.CreateSession("dev1", 70000, nil)
	require.Error(t, err)
}

func TestCreateSessionIdShape(t *testing.T) {
	r := New("localhost:8787", time.Hour, "")
	s, err := r.CreateSession("dev1", 3000, nil)
	require.NoError(t, err)
	assert.Regexp(t, `^[a-z]+-[a-z]+$`, s.ID)
	assert.Equal(t, StatusPending, s.Status)
	assert.Equal(t, "https://"+s.ID+".localhost:8787", s.TunnelURL)
}

func TestTouchActivityActivates(t *testing.T) {
	r := New("localhost:8787", time.Hour, "")
	s, _ := r.CreateSession("dev1", 3000, nil)
	r.TouchActivity(s.ID, true)
	got := r.GetSession(s.ID)
	assert.Equal(t, StatusActive, got.Status)
}

func TestUpdateSessionMergesMetadata(t *testing.T) {
	r := New("localhost:8787", time.Hour, "")
	s, _ := r.CreateSession("dev1", 3000, map[string]interface{}{"purpose": "demo"})
	updated := r.UpdateSession(s.ID, Patch{Metadata: map[string]interface{}{"extra": "x"}})
	require.NotNil(t, updated)
	assert.Equal(t, "demo", updated.Metadata["purpose"])
	assert.Equal(t, "x", updated.Metadata["extra"])
}

func TestUpdateSessionUnknownReturnsNil(t *testing.T) {
	r := New("localhost:8787", time.Hour, "")
	assert.Nil(t, r.UpdateSession("nope-nope", Patch{}))
}

func TestDeleteSession(t *testing.T) {
	r := New("localhost:8787", time.Hour, "")
	s, _ := r.CreateSession("dev1", 3000, nil)
	assert.True(t, r.DeleteSession(s.ID))
	assert.False(t, r.DeleteSession(s.ID))
	assert.Nil(t, r.GetSession(s.ID))
}

func TestCleanupExpiredSessionsSparesPermanent(t *testing.T) {
	r := New("localhost:8787", time.Millisecond, "")
	permanent, _ := r.CreateSession("dev1", 3000, map[string]interface{}{"permanent": true})
	ephemeral, _ := r.CreateSession("dev2", 3001, nil)

	time.Sleep(5 * time.Millisecond)
	expired := r.CleanupExpiredSessions()

	assert.Contains(t, expired, ephemeral.ID)
	assert.NotContains(t, expired, permanent.ID)
	assert.NotNil(t, r.GetSession(permanent.ID))
	assert.Nil(t, r.GetSession(ephemeral.ID))
}

func TestListSessionsFilter(t *testing.T) {
	r := New("localhost:8787", time.Hour, "")
	r.CreateSession("dev1", 3000, nil)
	r.CreateSession("dev2", 3001, nil)
	got := r.ListSessions(Filter{DeveloperID: "dev1"})
	require.Len(t, got, 1)
	assert.Equal(t, "dev1", got[0].DeveloperID)
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := New("localhost:8787", time.Hour, dir)
	s, _ := r.CreateSession("dev1", 3000, nil)

	_, err := os.Stat(dir + "/" + s.ID + ".json")
	require.NoError(t, err)

	reloaded := New("localhost:8787", time.Hour, dir)
	got := reloaded.GetSession(s.ID)
	require.NotNil(t, got)
	assert.Equal(t, s.DeveloperID, got.DeveloperID)
}
