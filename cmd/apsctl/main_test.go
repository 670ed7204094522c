package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/aps-client/internal/testutil"
	"github.com/Sternrassler/aps-client/pkg/client"
	"github.com/Sternrassler/aps-client/pkg/da"
	"github.com/Sternrassler/aps-client/pkg/derivative"
	"github.com/Sternrassler/aps-client/pkg/oss"
)

// run executes apsctl against the mock with a clean environment.
func run(t *testing.T, mock *testutil.MockAPS, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	out, _, err := runApp(t, mock, args...)
	return out, err
}

func runApp(t *testing.T, mock *testutil.MockAPS, args ...string) (string, *app, error) {
	t.Helper()
	root, a := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--base-url", mock.URL(), "--token", "test-token", "--log-level", "disabled"}, args...))

	err := a.execute(context.Background(), root)
	return out.String(), a, err
}

func TestBuckets(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()
	mock.SetResponse("GET /oss/v2/buckets", testutil.NewJSONResponse(map[string]any{
		"items": []oss.Bucket{
			{BucketKey: "models", PolicyKey: oss.PolicyPersistent, CreatedDate: 1700000000000},
			{BucketKey: "scratch", PolicyKey: oss.PolicyTransient, CreatedDate: 1700000000000},
		},
	}))

	out, err := run(t, mock, "buckets")
	require.NoError(t, err)

	assert.Contains(t, out, "BUCKET")
	assert.Contains(t, out, "models")
	assert.Contains(t, out, "persistent")
	assert.Contains(t, out, "scratch")

	req := mock.RequestsTo("GET", "/oss/v2/buckets")[0]
	assert.Equal(t, "Bearer test-token", req.Header.Get("Authorization"))
}

func TestBuckets_JSONOutput(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()
	mock.SetResponse("GET /oss/v2/buckets", testutil.NewJSONResponse(map[string]any{
		"items": []oss.Bucket{{BucketKey: "models"}},
	}))

	out, err := run(t, mock, "buckets", "-o", "json")
	require.NoError(t, err)

	var buckets []oss.Bucket
	require.NoError(t, json.Unmarshal([]byte(out), &buckets))
	assert.Equal(t, "models", buckets[0].BucketKey)
}

func TestBucketsCreate_InvalidPolicy(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()

	_, err := run(t, mock, "buckets", "create", "models", "--policy", "forever")

	assert.ErrorIs(t, err, errUsage)
	assert.Equal(t, exitUsage, exitCode(err))
	assert.Zero(t, mock.GetRequestCount())
}

func TestUnknownOutputFormat(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()

	_, err := run(t, mock, "engines", "-o", "xml")
	assert.ErrorIs(t, err, errUsage)
}

func TestUpload(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()

	dir := t.TempDir()
	file := filepath.Join(dir, "house.rvt")
	require.NoError(t, os.WriteFile(file, []byte("model bytes"), 0o600))

	s3 := mock.URL() + "/s3/part1"
	path := "/oss/v2/buckets/models/objects/house.rvt/signeds3upload"
	mock.SetResponse("GET "+path, testutil.NewJSONResponse(map[string]any{"uploadKey": "uk-1", "urls": []string{s3}}))
	mock.SetResponse("PUT /s3/part1", testutil.MockResponse{StatusCode: http.StatusOK})
	mock.SetResponse("POST "+path, testutil.NewJSONResponse(oss.Object{
		BucketKey: "models", ObjectKey: "house.rvt", ObjectID: oss.URN("models", "house.rvt"), Size: 11,
	}))

	out, err := run(t, mock, "upload", "models", file)
	require.NoError(t, err)

	assert.Contains(t, out, "urn:adsk.objects:os.object:models/house.rvt")
	puts := mock.RequestsTo("PUT", "/s3/part1")
	require.Len(t, puts, 1)
	assert.Equal(t, "model bytes", string(puts[0].Body))
	assert.Empty(t, puts[0].Header.Get("Authorization"))
}

func TestUpload_Direct(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()

	file := filepath.Join(t.TempDir(), "house.rvt")
	require.NoError(t, os.WriteFile(file, []byte("model bytes"), 0o600))

	mock.SetResponse("PUT /oss/v2/buckets/models/objects/door.rvt", testutil.NewJSONResponse(oss.Object{
		BucketKey: "models", ObjectKey: "door.rvt", ObjectID: oss.URN("models", "door.rvt"), Size: 11,
	}))

	out, err := run(t, mock, "upload", "models", file, "--key", "door.rvt", "--direct")
	require.NoError(t, err)

	assert.Contains(t, out, "urn:adsk.objects:os.object:models/door.rvt")
	puts := mock.RequestsTo("PUT", "/oss/v2/buckets/models/objects/door.rvt")
	require.Len(t, puts, 1)
	assert.Equal(t, "model bytes", string(puts[0].Body))
	assert.Equal(t, "Bearer test-token", puts[0].Header.Get("Authorization"))
	assert.Empty(t, mock.RequestsTo("GET", "/oss/v2/buckets/models/objects/door.rvt/signeds3upload"))
}

func TestEngines(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()
	mock.SetResponse("GET /da/us-east/v3/engines", testutil.NewJSONResponse(map[string]any{
		"data": []string{"Autodesk.Revit+2024", "Autodesk.AutoCAD+24"},
	}))

	out, err := run(t, mock, "engines")
	require.NoError(t, err)
	assert.Contains(t, out, "Autodesk.Revit+2024")
	assert.Contains(t, out, "Autodesk.AutoCAD+24")
}

func TestWorkItemWait(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()
	mock.SetSequence("GET /da/us-east/v3/workitems/wi-1",
		testutil.NewJSONResponse(da.WorkItem{ID: "wi-1", Status: da.StatusInProgress}),
		testutil.NewJSONResponse(da.WorkItem{ID: "wi-1", Status: da.StatusFailedInstructions, ReportURL: "https://report"}),
	)
	t.Setenv("APS_POLL_WORKITEM_INTERVAL", "5ms")

	out, err := run(t, mock, "workitem", "wait", "wi-1")
	require.NoError(t, err)

	assert.Contains(t, out, "failedInstructions")
	assert.Contains(t, out, "https://report")
}

func TestWorkItemRun(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()
	mock.SetResponse("POST /da/us-east/v3/workitems", testutil.NewJSONResponse(da.WorkItem{ID: "wi-2", Status: da.StatusPending}))

	argsFile := filepath.Join(t.TempDir(), "args.json")
	require.NoError(t, os.WriteFile(argsFile, []byte(`{
		"params": {"json": {"rooms": 3}},
		"model": {"bucketKey": "models", "objectKey": "house.rvt"}
	}`), 0o600))

	out, err := run(t, mock, "workitem", "run", "acme.LayoutGen+prod", "--args", argsFile, "--no-wait")
	require.NoError(t, err)
	assert.Contains(t, out, "wi-2")

	var body da.WorkItemRequest
	require.NoError(t, json.Unmarshal(mock.RequestsTo("POST", "/da/us-east/v3/workitems")[0].Body, &body))
	assert.Equal(t, "acme.LayoutGen+prod", body.ActivityID)
	assert.Equal(t, `data:application/json,{"rooms": 3}`, body.Arguments["params"].URL)
	assert.Equal(t, "urn:adsk.objects:os.object:models/house.rvt", body.Arguments["model"].URL)
}

func TestWorkItemRun_InvalidActivity(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()

	_, err := run(t, mock, "workitem", "run", "LayoutGen")
	assert.ErrorIs(t, err, errUsage)
}

func TestTranslateEncodesObjectID(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()
	mock.SetResponse("POST /modelderivative/v2/designdata/job", testutil.NewJSONResponse(derivative.JobResult{Result: "success"}))

	objectID := oss.URN("models", "house.rvt")
	out, err := run(t, mock, "translate", objectID)
	require.NoError(t, err)

	urn := derivative.EncodeURN(objectID)
	assert.Contains(t, out, urn)
	assert.Contains(t, string(mock.RequestsTo("POST", "/modelderivative/v2/designdata/job")[0].Body), `"urn":"`+urn+`"`)
}

func TestManifestWait(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()
	mock.SetSequence("GET /modelderivative/v2/designdata/dXJu/manifest",
		testutil.NewJSONResponse(derivative.Manifest{URN: "dXJu", Status: derivative.StatusInProgress, Progress: "10% complete"}),
		testutil.NewJSONResponse(derivative.Manifest{URN: "dXJu", Status: derivative.StatusSuccess, Progress: "complete"}),
	)
	t.Setenv("APS_POLL_TRANSLATION_INTERVAL", "5ms")

	out, err := run(t, mock, "manifest", "dXJu", "--wait")
	require.NoError(t, err)
	assert.Contains(t, out, "success")
}

func TestMissingToken(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()

	root, a := newRootCmd()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("APS_TOKEN", "")
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--base-url", mock.URL(), "--log-level", "disabled", "buckets"})

	err := a.execute(context.Background(), root)

	assert.ErrorIs(t, err, client.ErrMissingCredential)
	assert.Equal(t, exitUsage, exitCode(err))
	assert.Zero(t, mock.GetRequestCount())
}

func TestFailedCommandReleasesMetricsServer(t *testing.T) {
	mock := testutil.NewMockAPS()
	defer mock.Close()
	mock.SetResponse("GET /oss/v2/buckets", testutil.NewErrorResponse(http.StatusForbidden, "no access"))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	_, a, err := runApp(t, mock, "--metrics-addr", addr, "buckets")

	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, client.StatusCode(err))
	assert.Nil(t, a.metrics, "metrics server released after a failed command")

	conn, dialErr := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if dialErr == nil {
		conn.Close()
	}
	assert.Error(t, dialErr, "metrics address no longer served")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitTimeout, exitCode(client.TimeoutError("poll", context.DeadlineExceeded)))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
	assert.Equal(t, exitUsage, exitCode(fmt.Errorf("wrapped: %w", errUsage)))
}
