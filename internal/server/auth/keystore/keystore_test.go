package keystore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/tenantguard/internal/server/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSource_WriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	key, err := auth.GenerateKeyPair(1024)
	require.NoError(t, err)

	privPath, pubPath, err := WriteFiles(dir, key)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, PrivateKeyFile), privPath)

	pair, err := NewFileSource(privPath, pubPath).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, pair.Private.Equal(key))
	assert.True(t, pair.Public.Equal(&key.PublicKey))
}

func TestFileSource_MissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope.pem"), "x").Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileSource_MismatchedPair(t *testing.T) {
	a, err := auth.GenerateKeyPair(1024)
	require.NoError(t, err)
	b, err := auth.GenerateKeyPair(1024)
	require.NoError(t, err)

	privPath, _, err := WriteFiles(filepath.Join(t.TempDir(), "a"), a)
	require.NoError(t, err)
	_, pubPath, err := WriteFiles(filepath.Join(t.TempDir(), "b"), b)
	require.NoError(t, err)

	_, err = NewFileSource(privPath, pubPath).Load(context.Background())
	require.Error(t, err)
}

type fakeGetter struct {
	objects map[string][]byte
	calls   []string
}

func (f *fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls = append(f.calls, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Source_Load(t *testing.T) {
	key, err := auth.GenerateKeyPair(1024)
	require.NoError(t, err)
	privPEM, err := auth.EncodePrivateKeyPEM(key)
	require.NoError(t, err)
	pubPEM, err := auth.EncodePublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)

	getter := &fakeGetter{objects: map[string][]byte{
		"keys/private.pem": privPEM,
		"keys/public.pem":  pubPEM,
	}}
	src := NewS3SourceWithClient(getter, "secrets", "keys/private.pem", "keys/public.pem")

	pair, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, pair.Private.Equal(key))
	assert.Equal(t, []string{"secrets/keys/private.pem", "secrets/keys/public.pem"}, getter.calls)
}

func TestS3Source_MissingObject(t *testing.T) {
	src := NewS3SourceWithClient(&fakeGetter{}, "secrets", "a", "b")
	_, err := src.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://secrets/a")
}

func TestNewS3Source_AppliesSettings(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "us-east-1", lo.Region)
		creds, err := lo.Credentials.Retrieve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "minioadmin", creds.AccessKeyID)
		return aws.Config{Region: lo.Region}, nil
	}

	src, err := NewS3Source(context.Background(), S3Settings{
		Region:    "us-east-1",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Endpoint:  "http://127.0.0.1:9000",
		Bucket:    "secrets",
	})
	require.NoError(t, err)
	assert.Equal(t, "secrets", src.bucket)
}

func TestNewS3Source_ConfigError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("boom")
	}
	_, err := NewS3Source(context.Background(), S3Settings{})
	require.Error(t, err)
}
