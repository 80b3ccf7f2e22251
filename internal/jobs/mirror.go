package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArtifactMirror best-effort-copies a job's artifacts to a secondary
// location after the authoritative filesystem write. A mirror failure never
// fails the job — it is observed only through logging.
type ArtifactMirror interface {
	Mirror(ctx context.Context, jobID string, artifacts []string) error
}

// S3Mirror uploads job artifacts to an S3 bucket under jobs/<job_id>/<name>.
type S3Mirror struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Mirror loads AWS config from the environment/shared config files
// and
// returns a mirror bound to bucket.
func NewS3Mirror(ctx context.Context, bucket, prefix string) (*S3Mirror, error) {
	if bucket == "" {
		return nil, fmt.Errorf("jobs: s3 mirror bucket is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs: load aws config: %w", err)
	}
	return &S3Mirror{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (m *S3Mirror) Mirror(ctx context.Context, jobID string, paths []string) error {
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("jobs: mirror open %s: %w", p, err)
		}
		key := filepath.ToSlash(filepath.Join(m.prefix, "jobs", jobID, filepath.Base(p)))
		_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(m.bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		closeErr := f.Close()
		if err != nil {
			return fmt.Errorf("jobs: mirror put %s: %w", key, err)
		}
		if closeErr != nil {
			return fmt.Errorf("jobs: mirror close %s: %w", p, closeErr)
		}
	}
	return nil
}
