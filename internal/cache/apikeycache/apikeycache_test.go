package apikeycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"testing"
	"time"

	"github.com/logicalclocks/rdrs2go/internal/dal"
	"github.com/stretchr/testify/require"
)

type fakeAuthBackend struct {
	calls   int32
	salt    string
	secret  string
	userID  int
	dbs     []string
}

func (f *fakeAuthBackend) FindAPIKey(ctx context.Context, prefix string) (dal.AuthKeyRecord, error) {
	atomic.AddInt32(&f.calls, 1)
	sum := sha256.Sum256([]byte(f.secret + f.salt))
	return dal.AuthKeyRecord{
		SecretHash: hex.EncodeToString(sum[:]),
		Salt:       f.salt,
		UserID:     f.userID,
	}, nil
}

func (f *fakeAuthBackend) FindAllProjects(ctx context.Context, userID int) ([]string, error) {
	return f.dbs, nil
}

func TestValidateHitMissHit(t *testing.T) {
	backend := &fakeAuthBackend{salt: "s4lt", secret: "sec", userID: 1, dbs: []string{"proj_a"}}
	c := New(backend, Config{
		NShards:                 1,
		RefreshIntervalMS:       10_000,
		RefreshIntervalJitterMS: 0,
		UnusedEvictionMS:        300_000,
	})
	defer c.Shutdown()

	key := "AAAAAAAAAAAAAAAA.sec"

	require.NoError(t, c.Validate(context.Background(), key, []string{"proj_a"}))
	require.EqualValues(t, 1, atomic.LoadInt32(&backend.calls))

	require.NoError(t, c.Validate(context.Background(), key, []string{"proj_a"}))
	require.EqualValues(t, 1, atomic.LoadInt32(&backend.calls), "second call within refresh interval must not hit backend")

	err := c.Validate(context.Background(), key, []string{"proj_z"})
	require.Error(t, err)
}

func TestValidateRejectsBadFormat(t *testing.T) {
	backend := &fakeAuthBackend{}
	c := New(backend, Config{NShards: 1, RefreshIntervalMS: 1000, UnusedEvictionMS: 300_000})
	defer c.Shutdown()

	require.Error(t, c.Validate(context.Background(), "not-a-valid-key", []string{"proj_a"}))
	require.Error(t, c.Validate(context.Background(), "", []string{"proj_a"}))
	require.Error(t, c.Validate(context.Background(), "AAAAAAAAAAAAAAAA.sec", nil))
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	backend := &fakeAuthBackend{salt: "s4lt", secret: "sec", userID: 1, dbs: []string{"proj_a"}}
	c := New(backend, Config{NShards: 1, RefreshIntervalMS: 1000, UnusedEvictionMS: 300_000})
	defer c.Shutdown()

	err := c.Validate(context.Background(), "AAAAAAAAAAAAAAAA.wrong", []string{"proj_a"})
	require.Error(t, err)
}

func TestRefreshEventuallyRecontactsBackend(t *testing.T) {
	backend := &fakeAuthBackend{salt: "s4lt", secret: "sec", userID: 1, dbs: []string{"proj_a"}}
	c := New(backend, Config{
		NShards:           1,
		RefreshIntervalMS: 5,
		UnusedEvictionMS:  300_000,
	})
	defer c.Shutdown()

	key := "AAAAAAAAAAAAAAAA.sec"
	require.NoError(t, c.Validate(context.Background(), key, []string{"proj_a"}))

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&backend.calls) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&backend.calls), int32(2))
}
