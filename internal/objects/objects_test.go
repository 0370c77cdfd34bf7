package objects

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	headErr   error
	deleteErr error
	deleted   []string
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, f.deleteErr
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return &s3.HeadObjectOutput{}, f.headErr
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

type fakePresigner struct {
	putInput *s3.PutObjectInput
	expires  time.Duration
}

func (f *fakePresigner) PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.putInput = in
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3.amazonaws.com/" + aws.ToString(in.Key) + "?X-Amz-Signature=abc", Method: "PUT"}, nil
}

func (f *fakePresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3.amazonaws.com/" + aws.ToString(in.Key), Method: "GET"}, nil
}

func TestS3_PresignPut(t *testing.T) {
	p := &fakePresigner{}
	store := NewS3WithAPI(&fakeS3{}, p, "uploads")

	u, err := store.PresignPut(context.Background(), "uploads/u1/1_cat.png", "image/png", 5*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "uploads/u1/1_cat.png")
	assert.Equal(t, "image/png", aws.ToString(p.putInput.ContentType))
	assert.Equal(t, "uploads", aws.ToString(p.putInput.Bucket))
	assert.Equal(t, 5*time.Minute, p.expires)
}

func TestS3_ExistsAndDeleteTreatMissingAsAbsent(t *testing.T) {
	f := &fakeS3{headErr: &types.NotFound{}}
	store := NewS3WithAPI(f, &fakePresigner{}, "uploads")

	ok, err := store.Exists(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)

	f.headErr = errors.New("connection reset")
	_, err = store.Exists(context.Background(), "k")
	assert.Error(t, err)

	f.deleteErr = &types.NoSuchKey{}
	assert.NoError(t, store.Delete(context.Background(), "k"))
	assert.Equal(t, []string{"k"}, f.deleted)
}

type fakeMinio struct {
	statErr error
	removed []string
	exists  bool
}

func (f *fakeMinio) PresignedPutObject(ctx context.Context, bucket, object string, expires time.Duration) (*url.URL, error) {
	return url.Parse("http://localhost:9000/" + bucket + "/" + object + "?X-Amz-Expires=" + expires.String())
}

func (f *fakeMinio) PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	return url.Parse("http://localhost:9000/" + bucket + "/" + object)
}

func (f *fakeMinio) RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error {
	f.removed = append(f.removed, object)
	return nil
}

func (f *fakeMinio) StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return minio.ObjectInfo{Key: object}, f.statErr
}

func (f *fakeMinio) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.exists, nil
}

func TestMinio_Driver(t *testing.T) {
	f := &fakeMinio{statErr: minio.ErrorResponse{Code: "NoSuchKey"}}
	store := NewMinioWithAPI(f, "gallery")
	ctx := context.Background()

	u, err := store.PresignGet(ctx, "uploads/u1/a.png", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/gallery/uploads/u1/a.png", u)

	ok, err := store.Exists(ctx, "uploads/u1/a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Delete(ctx, "uploads/u1/a.png"))
	assert.Equal(t, []string{"uploads/u1/a.png"}, f.removed)

	assert.Error(t, store.Ping(ctx))
	f.exists = true
	assert.NoError(t, store.Ping(ctx))
}

func TestMemory_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewInstrumented(NewMemory("gallery"))
	mem := store.next.(*Memory)

	u, err := store.PresignPut(ctx, "uploads/u1/1_a.png", "image/png", 5*time.Minute)
	require.NoError(t, err)
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/u1/1_a.png", parsed.Path)
	assert.Equal(t, "300", parsed.Query().Get("expires"))

	ok, _ := store.Exists(ctx, "uploads/u1/1_a.png")
	assert.False(t, ok)

	mem.Upload("uploads/u1/1_a.png", []byte("png"))
	ok, _ = store.Exists(ctx, "uploads/u1/1_a.png")
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "uploads/u1/1_a.png"))
	ok, _ = store.Exists(ctx, "uploads/u1/1_a.png")
	assert.False(t, ok)
}
