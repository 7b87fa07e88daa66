package keystore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var loadDefaultAWSConfig = config.LoadDefaultConfig

// ObjectGetter is the subset of the S3 client the source needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Settings struct {
	Region     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	Bucket     string
	PrivateKey string
	PublicKey  string
}

// S3Source reads both PEM objects from one bucket. Works against MinIO when
// Endpoint is set.
type S3Source struct {
	client     ObjectGetter
	bucket     string
	privateKey string
	publicKey  string
}

func NewS3Source(ctx context.Context, s S3Settings) (*S3Source, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.AccessKey, s.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3SourceWithClient(client, s.Bucket, s.PrivateKey, s.PublicKey), nil
}

func NewS3SourceWithClient(client ObjectGetter, bucket, privateKey, publicKey string) *S3Source {
	return &S3Source{client: client, bucket: bucket, privateKey: privateKey, publicKey: publicKey}
}

func (s *S3Source) Load(ctx context.Context) (KeyPair, error) {
	privPEM, err := s.fetch(ctx, s.privateKey)
	if err != nil {
		return KeyPair{}, err
	}
	pubPEM, err := s.fetch(ctx, s.publicKey)
	if err != nil {
		return KeyPair{}, err
	}
	return parsePair(privPEM, pubPEM)
}

func (s *S3Source) fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}
