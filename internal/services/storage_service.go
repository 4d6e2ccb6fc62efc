// internal/services/storage_service.go
package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/healthledger/attestation-service/internal/config"
)

// StorageService keeps dataset artifacts in S3, or on local disk when no AWS
// credentials are configured.
type StorageService struct {
	s3Client *s3.S3
	cfg      config.AWSConfig
	maxSize  int64
}

type UploadResult struct {
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
}

var allowedArtifactTypes = []string{".csv", ".json", ".parquet", ".zip", ".gz", ".tar"}

func NewStorageService(cfg config.AWSConfig, maxSizeMB int64) (*StorageService, error) {
	s := &StorageService{cfg: cfg, maxSize: maxSizeMB * 1024 * 1024}
	if cfg.AccessKeyID == "" {
		logrus.WithField("dir", cfg.LocalUploadDir).Info("S3 not configured, storing artifacts locally")
		return s, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	s.s3Client = s3.New(sess)
	return s, nil
}

// UploadArtifact stores body under a key scoped to the dataset.
func (s *StorageService) UploadArtifact(datasetID uint, filename, contentType string, body io.Reader) (*UploadResult, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	allowed := false
	for _, t := range allowedArtifactTypes {
		if ext == t {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, invalidf("file type %q is not allowed", ext)
	}

	limit := s.maxSize
	if limit <= 0 {
		limit = 100 * 1024 * 1024
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, invalidf("artifact exceeds maximum size of %d bytes", limit)
	}

	key := s.artifactKey(datasetID, ext)
	sum := sha256.Sum256(data)
	result := &UploadResult{
		Key:      key,
		Size:     int64(len(data)),
		MimeType: contentType,
		SHA256:   hex.EncodeToString(sum[:]),
	}

	if s.s3Client != nil {
		_, err := s.s3Client.PutObject(&s3.PutObjectInput{
			Bucket:        aws.String(s.cfg.S3Bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upload to S3: %w", err)
		}
		return result, nil
	}

	path := filepath.Join(s.cfg.LocalUploadDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	return result, nil
}

// DownloadURL returns a time-limited URL for key. Locally stored artifacts
// are returned as file paths.
func (s *StorageService) DownloadURL(key string) (string, time.Time, error) {
	expires := time.Now().Add(s.cfg.PresignTTL)
	if s.s3Client == nil {
		return "file://" + filepath.ToSlash(filepath.Join(s.cfg.LocalUploadDir, key)), expires, nil
	}

	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.cfg.S3Bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(s.cfg.PresignTTL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url, expires, nil
}

func (s *StorageService) DeleteArtifact(key string) error {
	if s.s3Client == nil {
		err := os.Remove(filepath.Join(s.cfg.LocalUploadDir, filepath.FromSlash(key)))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete artifact: %w", err)
		}
		return nil
	}

	_, err := s.s3Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete artifact from S3: %w", err)
	}
	return nil
}

func (s *StorageService) artifactKey(datasetID uint, ext string) string {
	timestamp := time.Now().UTC().Format("20060102")
	return fmt.Sprintf("datasets/%d/%s_%s%s", datasetID, timestamp, uuid.New().String()[:8], ext)
}
