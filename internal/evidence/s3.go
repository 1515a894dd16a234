package evidence

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store writes evidence to keys like
//
//	<prefix>/evidence/YYYY/MM/DD/<uuid>.<ext>
//
// and returns refs of the form s3://<bucket>/<key>.
type S3Store struct {
	bucket   string
	prefix   string
	maxBytes int64
	uploader uploader
	clock    func() time.Time
	newName  func() string
}

// NewS3Store picks up region and credentials from the environment
// (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID ...).
func NewS3Store(ctx context.Context, bucket, prefix string, maxBytes int64) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("evidence: bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("evidence: load aws config: %w", err)
	}
	return newS3Store(manager.NewUploader(s3.NewFromConfig(cfg)), bucket, prefix, maxBytes), nil
}

func newS3Store(up uploader, bucket, prefix string, maxBytes int64) *S3Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &S3Store{
		bucket:   bucket,
		prefix:   prefix,
		maxBytes: maxBytes,
		uploader: up,
		clock:    time.Now,
		newName:  uuid.NewString,
	}
}

func (s *S3Store) Save(ctx context.Context, u Upload) (string, error) {
	if err := Check(u, s.maxBytes); err != nil {
		return "", err
	}
	year, month, day := s.clock().UTC().Date()
	key := path.Join(s.prefix, "evidence",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		s.newName()+extension(u.Filename),
	)

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 newLimitBody(u.Body, s.maxBytes),
		ContentType:          aws.String(contentType(u)),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("evidence: s3 upload: %w", err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}
