package oss

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Sternrassler/aps-client/pkg/client"
	"github.com/Sternrassler/aps-client/pkg/upload"
)

// signedUpload is one signeds3upload session for bucket/object.
type signedUpload struct {
	client    *client.Client
	token     string
	bucketKey string
	objectKey string
}

type signedUploadGrant struct {
	UploadKey string   `json:"uploadKey"`
	URLs      []string `json:"urls"`
}

func (u *signedUpload) path() string {
	return objectPath(u.bucketKey, u.objectKey) + "/signeds3upload"
}

// RequestUpload asks OSS for an upload key and part URLs.
func (u *signedUpload) RequestUpload(ctx context.Context, parts int) (*upload.Grant, error) {
	var grant signedUploadGrant
	err := u.client.Do(ctx, client.Request{
		Method:  http.MethodGet,
		Path:    u.path() + "?parts=" + strconv.Itoa(parts),
		Token:   u.token,
		Service: serviceName,
	}, &grant)
	if err != nil {
		return nil, err
	}
	return &upload.Grant{UploadKey: grant.UploadKey, URLs: grant.URLs}, nil
}

// Transfer PUTs one part to its pre-signed URL. The URL carries its own
// credentials so no bearer token is sent.
func (u *signedUpload) Transfer(ctx context.Context, url string, body io.Reader, size int64) error {
	_, err := u.client.Execute(ctx, client.Request{
		Method:        http.MethodPut,
		URL:           url,
		Anonymous:     true,
		Body:          body,
		ContentLength: size,
		Service:       "s3",
		Header:        http.Header{"Content-Type": []string{"application/octet-stream"}},
	})
	return err
}

// CompleteUpload finalizes the session. Called at most once per upload key.
func (u *signedUpload) CompleteUpload(ctx context.Context, uploadKey string, size int64) (*upload.Object, error) {
	var obj upload.Object
	err := u.client.Do(ctx, client.Request{
		Method:  http.MethodPost,
		Path:    u.path(),
		Token:   u.token,
		Service: serviceName,
		JSON:    map[string]string{"uploadKey": uploadKey},
	}, &obj)
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

// UploadObject stores payload as bucket/object through the signed S3 upload
// flow. A failure after the upload key was issued returns an
// *upload.AbandonedError; the partial upload is left to expire.
func (s *Service) UploadObject(ctx context.Context, token, bucketKey, objectKey string, payload upload.Payload) (*upload.Result, error) {
	if token == "" {
		return nil, fmt.Errorf("upload %s/%s: %w: token is required", bucketKey, objectKey, client.ErrMissingCredential)
	}
	if bucketKey == "" || objectKey == "" {
		return nil, fmt.Errorf("bucket key and object key are required")
	}

	session := &signedUpload{
		client:    s.client,
		token:     token,
		bucketKey: bucketKey,
		objectKey: objectKey,
	}
	return s.orchestrator.Upload(ctx, session, objectKey, payload)
}

// PutObject uploads body directly with a single authorized PUT.
func (s *Service) PutObject(ctx context.Context, token, bucketKey, objectKey string, body io.Reader, size int64) (*Object, error) {
	var obj Object
	err := s.client.Do(ctx, client.Request{
		Method:        http.MethodPut,
		Path:          objectPath(bucketKey, objectKey),
		Token:         token,
		Service:       serviceName,
		Body:          body,
		ContentLength: size,
		Header:        http.Header{"Content-Type": []string{"application/octet-stream"}},
	}, &obj)
	if err != nil {
		return nil, fmt.Errorf("put object %s/%s: %w", bucketKey, objectKey, err)
	}
	return &obj, nil
}
