package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/store"
)

type fakeClient struct {
	mu       sync.Mutex
	config   map[string]any
	calls    []string
	cleaned  bool
	initErr  error
	response any
}

func (f *fakeClient) Initialize(_ context.Context, config map[string]any) error {
	f.config = config
	return f.initErr
}

func (f *fakeClient) Call(_ context.Context, operation string, _ map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, operation)
	return f.response, nil
}

func (f *fakeClient) Cleanup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = true
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func staticFetcher(config map[string]any) CredentialFetcher {
	return func(context.Context, string, string) (map[string]any, error) {
		return config, nil
	}
}

func TestClientIsCachedAcrossCalls(t *testing.T) {
	reg, err := NewRegistry(staticFetcher(map[string]any{"k": "v"}), time.Minute, testLogger(t))
	require.NoError(t, err)

	var built atomic.Int32
	reg.Register("fake", func() Client {
		built.Add(1)
		return &fakeClient{response: "ok"}
	})

	first, err := reg.Client(context.Background(), "proj-1", "fake")
	require.NoError(t, err)
	second, err := reg.Client(context.Background(), "proj-1", "fake")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), built.Load())
}

func TestClientExpiresAfterTTL(t *testing.T) {
	reg, err := NewRegistry(staticFetcher(map[string]any{"k": "v"}), time.Minute, testLogger(t))
	require.NoError(t, err)

	clock := time.Now()
	reg.now = func() time.Time { return clock }

	var clients []*fakeClient
	reg.Register("fake", func() Client {
		c := &fakeClient{}
		clients = append(clients, c)
		return c
	})

	first, err := reg.Client(context.Background(), "proj-1", "fake")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	second, err := reg.Client(context.Background(), "proj-1", "fake")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	require.Len(t, clients, 2)
	assert.True(t, clients[0].cleaned, "expired client must be disposed")
	assert.False(t, clients[1].cleaned)
}

func TestRotatedCredentialsGetFreshClient(t *testing.T) {
	config := map[string]any{"api_key": "old"}
	var mu sync.Mutex
	fetch := func(context.Context, string, string) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		return config, nil
	}
	reg, err := NewRegistry(fetch, time.Minute, testLogger(t))
	require.NoError(t, err)

	var built atomic.Int32
	reg.Register("fake", func() Client {
		built.Add(1)
		return &fakeClient{}
	})

	_, err = reg.Client(context.Background(), "proj-1", "fake")
	require.NoError(t, err)

	mu.Lock()
	config = map[string]any{"api_key": "rotated"}
	mu.Unlock()

	_, err = reg.Client(context.Background(), "proj-1", "fake")
	require.NoError(t, err)
	assert.Equal(t, int32(2), built.Load())
}

func TestClientUnknownProvider(t *testing.T) {
	reg, err := NewRegistry(staticFetcher(map[string]any{}), time.Minute, testLogger(t))
	require.NoError(t, err)

	_, err = reg.Client(context.Background(), "proj-1", "smalltalk")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestClientInitializeFailureIsNotCached(t *testing.T) {
	reg, err := NewRegistry(staticFetcher(map[string]any{}), time.Minute, testLogger(t))
	require.NoError(t, err)

	var built atomic.Int32
	reg.Register("fake", func() Client {
		built.Add(1)
		return &fakeClient{initErr: errors.New("bad credentials")}
	})

	_, err = reg.Client(context.Background(), "proj-1", "fake")
	require.Error(t, err)
	_, err = reg.Client(context.Background(), "proj-1", "fake")
	require.Error(t, err)
	assert.Equal(t, int32(2), built.Load(), "failed constructions must not be cached")
}

func TestCallRoutesOperation(t *testing.T) {
	reg, err := NewRegistry(staticFetcher(map[string]any{}), time.Minute, testLogger(t))
	require.NoError(t, err)

	fake := &fakeClient{response: map[string]any{"rows": 3}}
	reg.Register("fake", func() Client { return fake })

	out, err := reg.Call(context.Background(), "proj-1", "fake", "run_query", map[string]any{"q": "select 1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rows": 3}, out)
	assert.Equal(t, []string{"run_query"}, fake.calls)
}

func TestCleanupDisposesAllClients(t *testing.T) {
	reg, err := NewRegistry(staticFetcher(map[string]any{}), time.Minute, testLogger(t))
	require.NoError(t, err)

	fake := &fakeClient{}
	reg.Register("fake", func() Client { return fake })

	_, err = reg.Client(context.Background(), "proj-1", "fake")
	require.NoError(t, err)

	reg.Cleanup()
	assert.True(t, fake.cleaned)
}

func TestStoreCredentialFetcher(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.CreateProviderCredential(ctx, &store.ProviderCredential{
		ID:           "cred-1",
		ProjectID:    "proj-1",
		ProviderType: "redash",
		Config:       map[string]any{"base_url": "https://redash.local", "api_key": "k"},
	}))

	fetch := StoreCredentialFetcher(st)

	config, err := fetch(ctx, "proj-1", "redash")
	require.NoError(t, err)
	assert.Equal(t, "https://redash.local", config["base_url"])

	_, err = fetch(ctx, "proj-1", "looker")
	assert.Error(t, err)
}

func TestRedashClientRejectsUnknownOperation(t *testing.T) {
	c := NewRedashClient()
	require.NoError(t, c.Initialize(context.Background(), map[string]any{
		"base_url": "https://redash.local/",
		"api_key":  "secret",
	}))
	assert.Equal(t, "https://redash.local", c.baseURL)

	_, err := c.Call(context.Background(), "drop_table", nil)
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestDataHubClientRequiresQuery(t *testing.T) {
	c := NewDataHubClient()
	require.NoError(t, c.Initialize(context.Background(), map[string]any{"base_url": "https://datahub.local"}))

	_, err := c.Call(context.Background(), "graphql", map[string]any{})
	assert.Error(t, err)
}

func TestConfigFingerprintIsStable(t *testing.T) {
	a := configFingerprint(map[string]any{"a": 1, "b": "x"})
	b := configFingerprint(map[string]any{"b": "x", "a": 1})
	c := configFingerprint(map[string]any{"a": 2, "b": "x"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
