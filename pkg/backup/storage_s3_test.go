package backup

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket returning at most pageSize keys per list call.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	lists    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageSize: 2}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := min(start+f.pageSize, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Storage_KeysUnderPrefix(t *testing.T) {
	fake := newFakeS3()
	storage := NewS3Storage(fake, "bucket", "/device-1/")
	ctx := context.Background()

	require.NoError(t, storage.Save(ctx, "call_log-a", strings.NewReader("{}")))
	_, ok := fake.objects["device-1/call_log-a"]
	assert.True(t, ok)

	rc, err := storage.Load(ctx, "call_log-a")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "{}", string(data))

	require.NoError(t, storage.Delete(ctx, "call_log-a"))
	assert.Empty(t, fake.objects)
}

func TestS3Storage_ListPages(t *testing.T) {
	fake := newFakeS3()
	storage := NewS3Storage(fake, "bucket", "snapshots")
	ctx := context.Background()

	for _, name := range []string{"call_log-1", "call_log-2", "call_log-3", "other-1", "call_log-4", "call_log-5"} {
		require.NoError(t, storage.Save(ctx, name, strings.NewReader("x")))
	}

	names, err := storage.List(ctx, "call_log-")
	require.NoError(t, err)
	assert.Equal(t, []string{"call_log-1", "call_log-2", "call_log-3", "call_log-4", "call_log-5"}, names)
	assert.Equal(t, 3, fake.lists)
}

func TestS3Storage_LoadMissing(t *testing.T) {
	storage := NewS3Storage(newFakeS3(), "bucket", "")

	_, err := storage.Load(context.Background(), "nope")
	var missing *types.NoSuchKey
	assert.True(t, errors.As(err, &missing))
}

func TestS3Storage_WithService(t *testing.T) {
	svc := NewService[record](NewS3Storage(newFakeS3(), "bucket", "backups"), "call_log", "1")
	ctx := context.Background()

	_, err := svc.Create(ctx, []record{{ID: "1", Kind: "missed"}})
	require.NoError(t, err)

	snap, err := svc.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "missed", snap.Records[0].Kind)
}

func TestNewS3StorageFromConfig_RequiresBucket(t *testing.T) {
	_, err := NewS3StorageFromConfig(context.Background(), S3Config{})
	assert.Error(t, err)
}
