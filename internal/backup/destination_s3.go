package backup

import (
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/yourusername/mc-server-manager/internal/config"
)

// S3Destination stores backups in AWS S3 or S3-compatible storage
type S3Destination struct {
	bucket   string
	prefix   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Destination creates a new S3 destination. Without static keys the
// SDK's default credential chain is used.
func NewS3Destination(cfg config.BackupDestinationConfig) (*S3Destination, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.S3Region),
	}
	if cfg.S3Region == "" {
		awsConfig.Region = aws.String("us-east-1")
	}
	if cfg.S3AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, "")
	}

	// Custom endpoint for S3-compatible storage (MinIO, Backblaze B2, etc.)
	if cfg.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.S3Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := s3.New(sess)
	dest := &S3Destination{
		bucket:   cfg.S3Bucket,
		prefix:   strings.Trim(cfg.Path, "/"),
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
	}

	log.Printf("[S3Dest] Initialized S3 destination: bucket=%s, region=%s", cfg.S3Bucket, aws.StringValue(awsConfig.Region))
	return dest, nil
}

func (sd *S3Destination) key(filename string) string {
	if sd.prefix == "" {
		return filename
	}
	return path.Join(sd.prefix, filename)
}

// Upload streams a backup to S3 in parts.
func (sd *S3Destination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	key := sd.key(filename)
	log.Printf("[S3Dest] Uploading %s to s3://%s/%s (%d bytes)", filename, sd.bucket, key, sizeBytes)

	_, err := sd.uploader.Upload(&s3manager.UploadInput{
		Bucket:       aws.String(sd.bucket),
		Key:          aws.String(key),
		Body:         reader,
		ContentType:  aws.String(ContentTypeFor(filename)),
		StorageClass: aws.String(s3.StorageClassStandard),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Printf("[S3Dest] Upload complete: %s", filename)
	return nil
}

// Download downloads a backup file from S3
func (sd *S3Destination) Download(filename string, writer io.Writer) error {
	if err := validateFilename(filename); err != nil {
		return err
	}

	result, err := sd.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(sd.bucket),
		Key:    aws.String(sd.key(filename)),
	})
	if err != nil {
		return fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	if _, err := io.Copy(writer, result.Body); err != nil {
		return fmt.Errorf("failed to read S3 object: %w", err)
	}
	return nil
}

// Delete removes a backup file from S3
func (sd *S3Destination) Delete(filename string) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	key := sd.key(filename)
	log.Printf("[S3Dest] Deleting s3://%s/%s", sd.bucket, key)

	_, err := sd.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(sd.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List returns the objects directly under the destination prefix.
func (sd *S3Destination) List() ([]BackupFile, error) {
	prefix := ""
	if sd.prefix != "" {
		prefix = sd.prefix + "/"
	}

	files := []BackupFile{}
	err := sd.client.ListObjectsV2Pages(&s3.ListObjectsV2Input{
		Bucket:    aws.String(sd.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.StringValue(obj.Key), prefix)
			if name == "" {
				continue
			}
			files = append(files, BackupFile{
				Filename:  name,
				SizeBytes: aws.Int64Value(obj.Size),
				CreatedAt: aws.TimeValue(obj.LastModified).Unix(),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}
	return files, nil
}

// GetType returns the destination type
func (sd *S3Destination) GetType() string {
	return "s3"
}
