//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/aps-client/internal/testutil"
	"github.com/Sternrassler/aps-client/pkg/aps"
	"github.com/Sternrassler/aps-client/pkg/client"
	"github.com/Sternrassler/aps-client/pkg/da"
	"github.com/Sternrassler/aps-client/pkg/derivative"
	"github.com/Sternrassler/aps-client/pkg/oss"
	"github.com/Sternrassler/aps-client/pkg/poll"
	"github.com/Sternrassler/aps-client/pkg/ratelimit"
	"github.com/Sternrassler/aps-client/pkg/upload"
)

const token = "integration-token"

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newClient(t *testing.T, mock *testutil.MockAPS, redisClient *redis.Client) *aps.Client {
	t.Helper()
	cfg := aps.DefaultConfig()
	cfg.BaseURL = mock.URL()
	cfg.Redis = redisClient
	cfg.RateLimit = ratelimit.Config{}
	cfg.CacheScope = "integration"
	cfg.WorkItemPoll = poll.Config{Interval: 10 * time.Millisecond}
	cfg.TranslationPoll = poll.Config{Interval: 10 * time.Millisecond}

	c, err := aps.New(cfg)
	require.NoError(t, err)
	return c
}

// TestThrottleSharedAcrossClients checks that a 429 seen by one client
// delays requests of another client on the same Redis.
func TestThrottleSharedAcrossClients(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockAPS()
	defer mock.Close()
	mock.SetSequence("GET /oss/v2/buckets/models/details",
		testutil.NewRateLimitResponse(1),
		testutil.NewJSONResponse(oss.BucketDetails{Bucket: oss.Bucket{BucketKey: "models"}}),
	)

	first := newClient(t, mock, redisClient)
	second := newClient(t, mock, redisClient)
	ctx := context.Background()

	_, err := first.OSS.BucketDetails(ctx, token, "models")
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, client.StatusCode(err))

	state, err := second.ThrottleState(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsThrottled())

	start := time.Now()
	details, err := second.OSS.BucketDetails(ctx, token, "models")
	require.NoError(t, err)
	assert.Equal(t, "models", details.BucketKey)
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond, "second client waited out the window")
}

// TestTerminalSnapshotsCachedAcrossClients checks that a finished work item
// and manifest are served from Redis to a second client.
func TestTerminalSnapshotsCachedAcrossClients(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockAPS()
	defer mock.Close()
	mock.SetSequence("GET /da/us-east/v3/workitems/wi-1",
		testutil.NewJSONResponse(da.WorkItem{ID: "wi-1", Status: da.StatusInProgress}),
		testutil.NewJSONResponse(da.WorkItem{ID: "wi-1", Status: da.StatusSuccess, ReportURL: "https://report"}),
	)
	mock.SetSequence("GET /modelderivative/v2/designdata/dXJu/manifest",
		testutil.NewJSONResponse(derivative.Manifest{URN: "dXJu", Status: derivative.StatusPending}),
		testutil.NewJSONResponse(derivative.Manifest{URN: "dXJu", Status: derivative.StatusFailed}),
	)

	ctx := context.Background()
	first := newClient(t, mock, redisClient)
	second := newClient(t, mock, redisClient)

	wi, err := first.DA.WaitWorkItem(ctx, token, "wi-1")
	require.NoError(t, err)
	require.True(t, wi.Succeeded())

	m, err := first.Derivative.WaitForTranslation(ctx, token, "dXJu")
	require.NoError(t, err)
	require.Equal(t, derivative.StatusFailed, m.Status)

	before := mock.GetRequestCount()

	cachedWI, err := second.DA.WaitWorkItem(ctx, token, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, "https://report", cachedWI.ReportURL)

	cachedM, err := second.Derivative.WaitForTranslation(ctx, token, "dXJu")
	require.NoError(t, err)
	assert.Equal(t, derivative.StatusFailed, cachedM.Status)

	assert.Equal(t, before, mock.GetRequestCount(), "cached waits issue no requests")

	// A re-translation from either client drops the shared snapshot.
	mock.SetResponse("POST /modelderivative/v2/designdata/job", testutil.NewJSONResponse(derivative.JobResult{Result: "success", URN: "dXJu"}))
	_, err = second.Derivative.Translate(ctx, token, derivative.Job{
		Input:   derivative.Input{URN: "dXJu"},
		Formats: []derivative.Format{derivative.SVF2()},
		Force:   true,
	})
	require.NoError(t, err)
	mock.SetResponse("GET /modelderivative/v2/designdata/dXJu/manifest",
		testutil.NewJSONResponse(derivative.Manifest{URN: "dXJu", Status: derivative.StatusSuccess}))

	fresh, err := first.Derivative.WaitForTranslation(ctx, token, "dXJu")
	require.NoError(t, err)
	assert.Equal(t, derivative.StatusSuccess, fresh.Status)
}

// TestUploadAndTranslate runs the upload saga followed by a translation
// and a manifest wait.
func TestUploadAndTranslate(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockAPS()
	defer mock.Close()

	objectID := oss.URN("models", "house.rvt")
	urn := derivative.EncodeURN(objectID)
	signed := "/oss/v2/buckets/models/objects/house.rvt/signeds3upload"

	mock.SetResponse("GET "+signed, testutil.NewJSONResponse(map[string]any{
		"uploadKey": "uk-1",
		"urls":      []string{mock.URL() + "/s3/upload/1"},
	}))
	mock.SetResponse("PUT /s3/upload/1", testutil.MockResponse{StatusCode: http.StatusOK})
	mock.SetResponse("POST "+signed, testutil.NewJSONResponse(oss.Object{
		BucketKey: "models", ObjectKey: "house.rvt", ObjectID: objectID, Size: 5,
	}))
	mock.SetResponse("POST /modelderivative/v2/designdata/job", testutil.NewJSONResponse(derivative.JobResult{Result: "success", URN: urn}))
	mock.SetSequence("GET /modelderivative/v2/designdata/"+urn+"/manifest",
		testutil.NewJSONResponse(derivative.Manifest{URN: urn, Status: derivative.StatusInProgress}),
		testutil.NewJSONResponse(derivative.Manifest{URN: urn, Status: derivative.StatusSuccess}),
	)

	c := newClient(t, mock, redisClient)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := c.OSS.UploadObject(ctx, token, "models", "house.rvt", upload.BytesPayload([]byte("hello")))
	require.NoError(t, err)
	require.Equal(t, objectID, result.Object.ObjectID)

	_, err = c.Derivative.Translate(ctx, token, derivative.Job{
		Input:   derivative.Input{URN: derivative.EncodeURN(result.Object.ObjectID)},
		Formats: []derivative.Format{derivative.SVF2()},
	})
	require.NoError(t, err)

	m, err := c.Derivative.WaitForTranslation(ctx, token, urn)
	require.NoError(t, err)
	assert.True(t, m.Succeeded())
}
