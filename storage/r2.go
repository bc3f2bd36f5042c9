package storage

import (
	"context"
	"fmt"
	"mime/multipart"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type R2Options struct {
	Bucket       string
	AccessKey    string
	SecretKey    string
	Endpoint     string // https://<account-id>.r2.cloudflarestorage.com
	PublicDomain string
}

// R2Store keeps avatars in a Cloudflare R2 bucket through its S3 API.
type R2Store struct {
	s3           *s3.Client
	bucket       string
	publicDomain string
}

func NewR2Store(ctx context.Context, opts R2Options) (*R2Store, error) {
	if opts.Bucket == "" || opts.AccessKey == "" || opts.SecretKey == "" || opts.Endpoint == "" {
		return nil, fmt.Errorf("missing R2 env vars (R2_BUCKET, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY, R2_ENDPOINT)")
	}
	if opts.PublicDomain == "" {
		return nil, fmt.Errorf("missing R2_PUBLIC_DOMAIN: avatar URLs must be absolute")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("r2 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true // required for R2
	})

	return &R2Store{s3: client, bucket: opts.Bucket, publicDomain: strings.TrimRight(opts.PublicDomain, "/")}, nil
}

func (r *R2Store) UploadAvatar(ctx context.Context, userID string, fh *multipart.FileHeader, contentType string) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	objectName := avatarObjectName(userID, fh.Filename)
	_, err = r.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(r.bucket),
		Key:          aws.String(objectName),
		Body:         f,
		ContentType:  aws.String(contentTypeFor(fh, contentType)),
		CacheControl: aws.String("no-cache"),
	})
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	return r.publicURL(objectName), nil
}

func (r *R2Store) DeleteByURL(ctx context.Context, publicURL string) error {
	obj, err := ObjectNameFromR2PublicURL(r.publicDomain, r.bucket, publicURL)
	if err != nil {
		return err
	}
	_, err = r.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(obj),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", obj, err)
	}
	return nil
}

func (r *R2Store) publicURL(objectName string) string {
	return fmt.Sprintf("%s/%s/%s", r.publicDomain, r.bucket, objectName)
}

// ObjectNameFromR2PublicURL accepts both custom-domain URLs built by
// publicURL and r2.dev style URLs.
func ObjectNameFromR2PublicURL(domain, bucket, raw string) (string, error) {
	if domain != "" && strings.HasPrefix(raw, domain+"/"+bucket+"/") {
		return strings.TrimPrefix(raw, domain+"/"+bucket+"/"), nil
	}

	// r2.dev style: https://<bucket>.<account>.r2.dev/<object>
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(raw, prefix) {
			withoutScheme := strings.TrimPrefix(raw, prefix)
			slash := strings.Index(withoutScheme, "/")
			if slash == -1 || slash == len(withoutScheme)-1 {
				return "", fmt.Errorf("no object path in url")
			}
			return withoutScheme[slash+1:], nil
		}
	}

	return "", fmt.Errorf("not a recognised R2 public url")
}
