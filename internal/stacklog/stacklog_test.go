package stacklog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdio/stackd/internal/model"
)

var fixedTime = time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("launch"))
	assert.True(t, ValidName("state.hadoop.namenode"))
	assert.True(t, ValidName("web-7"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName(".."))
	assert.False(t, ValidName("../etc"))
	assert.False(t, ValidName("a/b"))
	assert.False(t, ValidName(".hidden"))
}

func TestLocal_PutAndLatest(t *testing.T) {
	root := t.TempDir()
	l := NewLocal(root)
	l.now = func() time.Time { return fixedTime }
	ctx := context.Background()

	require.NoError(t, l.Put(ctx, "web-7", "highstate", []byte("first")))
	l.now = func() time.Time { return fixedTime.Add(time.Minute) }
	require.NoError(t, l.Put(ctx, "web-7", "highstate", []byte("second")))

	got, err := l.Latest(ctx, "web-7", "highstate")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	stamped, err := os.ReadFile(filepath.Join(root, "web-7", "highstate.20260301T123045.000Z.log"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(stamped))
}

func TestLocal_Errors(t *testing.T) {
	l := NewLocal(t.TempDir())
	ctx := context.Background()

	_, err := l.Latest(ctx, "web-7", "launch")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = l.Latest(ctx, "web-7", "../../secrets")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	assert.Error(t, l.Put(ctx, "../x", "launch", nil))
}

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3_PutAndLatest(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	s := NewS3(client, "logs", "stackd/")
	s.now = func() time.Time { return fixedTime }
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "web-7", "launch", []byte("ok")))
	assert.Contains(t, client.objects, "logs/stackd/web-7/launch.20260301T123045.000Z.log")
	assert.Contains(t, client.objects, "logs/stackd/web-7/launch.latest.log")

	got, err := s.Latest(ctx, "web-7", "launch")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(got))

	_, err = s.Latest(ctx, "web-7", "orchestrate")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestS3_PutError(t *testing.T) {
	s := NewS3(&fakeS3{objects: map[string][]byte{}, putErr: errors.New("access denied")}, "logs", "")
	err := s.Put(context.Background(), "web-7", "launch", []byte("x"))
	assert.ErrorContains(t, err, "access denied")
}

func TestNewS3Client(t *testing.T) {
	c := NewS3Client(S3Config{Endpoint: "http://localhost:9000", AccessKey: "a", SecretKey: "b"})
	assert.NotNil(t, c)
}

func TestOpen(t *testing.T) {
	local, err := Open("local", t.TempDir(), S3Config{})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, local)

	remote, err := Open("s3", "", S3Config{Endpoint: "http://minio:9000", Bucket: "logs", Prefix: "stack-logs/"})
	require.NoError(t, err)
	assert.IsType(t, &S3{}, remote)

	_, err = Open("gcs", "", S3Config{})
	assert.Error(t, err)
}
