package upload

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/aps-client/pkg/client"
)

type fakeSession struct {
	grant       *Grant
	requestErr  error
	transferErr error
	completeErr error

	requestedParts int
	transfers      map[string][]byte
	completions    []string
}

func (f *fakeSession) RequestUpload(ctx context.Context, parts int) (*Grant, error) {
	f.requestedParts = parts
	return f.grant, f.requestErr
}

func (f *fakeSession) Transfer(ctx context.Context, url string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	if f.transfers == nil {
		f.transfers = map[string][]byte{}
	}
	f.transfers[url] = data
	return f.transferErr
}

func (f *fakeSession) CompleteUpload(ctx context.Context, uploadKey string, size int64) (*Object, error) {
	f.completions = append(f.completions, uploadKey)
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &Object{BucketKey: "bucket", ObjectKey: "model.zip", ObjectID: "urn:adsk.objects:os.object:bucket/model.zip", Size: size}, nil
}

func TestUpload_HappyPath(t *testing.T) {
	session := &fakeSession{grant: &Grant{UploadKey: "key-1", URLs: []string{"https://s3/part1"}}}
	o := NewOrchestrator(nil)

	result, err := o.Upload(context.Background(), session, "model.zip", BytesPayload([]byte("hello world")))
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, result.State)
	assert.Equal(t, "model.zip", result.ObjectKey)
	assert.Equal(t, "key-1", result.UploadKey)
	assert.Equal(t, "model.zip", result.Object.ObjectKey)
	assert.Equal(t, int64(11), result.Object.Size)
	assert.Equal(t, SinglePart, session.requestedParts)
	assert.Equal(t, []byte("hello world"), session.transfers["https://s3/part1"])
	assert.Equal(t, []string{"key-1"}, session.completions)
}

func TestUpload_URLCountMismatch(t *testing.T) {
	session := &fakeSession{grant: &Grant{UploadKey: "key-1", URLs: []string{"https://s3/p1", "https://s3/p2"}}}
	o := NewOrchestrator(nil)

	result, err := o.Upload(context.Background(), session, "model.zip", BytesPayload([]byte("x")))

	assert.Nil(t, result)
	assert.ErrorIs(t, err, client.ErrUploadSetupFailed)
	assert.False(t, IsAbandoned(err))
	assert.Empty(t, session.transfers, "no transfer attempted")
	assert.Empty(t, session.completions)
}

func TestUpload_NoURLs(t *testing.T) {
	session := &fakeSession{grant: &Grant{UploadKey: "key-1"}}

	_, err := NewOrchestrator(nil).Upload(context.Background(), session, "a", BytesPayload([]byte("x")))

	assert.ErrorIs(t, err, client.ErrUploadSetupFailed)
	assert.Empty(t, session.transfers)
}

func TestUpload_RequestFailed(t *testing.T) {
	statusErr := &client.HTTPStatusError{StatusCode: 403, ErrorClass: client.ErrorClassClient}
	session := &fakeSession{requestErr: statusErr}

	_, err := NewOrchestrator(nil).Upload(context.Background(), session, "a", BytesPayload([]byte("x")))

	assert.ErrorIs(t, err, client.ErrUploadSetupFailed)
	assert.Equal(t, 403, client.StatusCode(err))
	assert.Empty(t, session.completions)
}

func TestUpload_MissingUploadKey(t *testing.T) {
	session := &fakeSession{grant: &Grant{URLs: []string{"https://s3/p1"}}}

	_, err := NewOrchestrator(nil).Upload(context.Background(), session, "a", BytesPayload([]byte("x")))

	assert.ErrorIs(t, err, client.ErrUploadSetupFailed)
}

func TestUpload_MissingPayload(t *testing.T) {
	session := &fakeSession{grant: &Grant{UploadKey: "k", URLs: []string{"u"}}}

	_, err := NewOrchestrator(nil).Upload(context.Background(), session, "a", Payload{})

	assert.ErrorIs(t, err, client.ErrUploadSetupFailed)
	assert.Zero(t, session.requestedParts)
}

func TestUpload_TransferFailureAbandons(t *testing.T) {
	session := &fakeSession{
		grant:       &Grant{UploadKey: "key-2", URLs: []string{"https://s3/p1"}},
		transferErr: errors.New("connection reset"),
	}

	_, err := NewOrchestrator(nil).Upload(context.Background(), session, "model.zip", BytesPayload([]byte("data")))

	assert.ErrorIs(t, err, client.ErrUploadTransferFailed)
	assert.True(t, IsAbandoned(err))
	assert.Empty(t, session.completions, "completion must not run after a failed transfer")

	var abandoned *AbandonedError
	require.ErrorAs(t, err, &abandoned)
	assert.Equal(t, "key-2", abandoned.UploadKey)
	assert.Equal(t, "model.zip", abandoned.ObjectKey)
	assert.Equal(t, StateAbandoned, abandoned.State())
}

func TestUpload_CompletionFailureAbandons(t *testing.T) {
	session := &fakeSession{
		grant:       &Grant{UploadKey: "key-3", URLs: []string{"https://s3/p1"}},
		completeErr: &client.HTTPStatusError{StatusCode: 500, ErrorClass: client.ErrorClassServer},
	}

	_, err := NewOrchestrator(nil).Upload(context.Background(), session, "model.zip", BytesPayload([]byte("data")))

	assert.ErrorIs(t, err, client.ErrUploadCompletionFailed)
	assert.ErrorIs(t, err, client.ErrHTTPStatus)
	assert.True(t, IsAbandoned(err))
	assert.Equal(t, []string{"key-3"}, session.completions, "completion attempted exactly once")
}
