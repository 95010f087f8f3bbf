package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trionica/catalog-enricher/pkg/utils"
)

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	puts    int
	headErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts++
	f.objects[*in.Key] = data
	if in.ContentType != nil {
		f.types[*in.Key] = *in.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3BlobStore_PutGet(t *testing.T) {
	fake := newFakeS3()
	store := NewS3BlobStoreWithClient(fake, "images", "catalog", testLogger())
	ctx := context.Background()

	require.NoError(t, store.PutBlob(ctx, "abc123", []byte("jpeg bytes"), "image/jpeg"))
	assert.Equal(t, []byte("jpeg bytes"), fake.objects["catalog/abc123"])
	assert.Equal(t, "image/jpeg", fake.types["catalog/abc123"])

	// Same key is not uploaded twice
	require.NoError(t, store.PutBlob(ctx, "abc123", []byte("jpeg bytes"), "image/jpeg"))
	assert.Equal(t, 1, fake.puts)

	data, err := store.GetBlob(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), data)

	has, err := store.HasBlob(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = store.GetBlob(ctx, "missing")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestS3BlobStore_HeadFailure(t *testing.T) {
	fake := newFakeS3()
	fake.headErr = errors.New("access denied")
	store := NewS3BlobStoreWithClient(fake, "images", "", testLogger())

	err := store.PutBlob(context.Background(), "k", []byte("x"), "")
	assert.ErrorIs(t, err, utils.ErrBlobStore)
	assert.Zero(t, fake.puts)
}
