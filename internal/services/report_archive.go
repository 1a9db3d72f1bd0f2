package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"memberbilling/internal/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ReportArchive keeps a copy of each renewal job report outside the database
type ReportArchive interface {
	Archive(ctx context.Context, report *models.RenewalJobReport) error
	EnsureBucketExists(ctx context.Context) error
}

type minioReportArchive struct {
	client *minio.Client
	bucket string
}

func NewMinioReportArchive(endpoint, accessKey, secretKey string, useSSL bool, bucket string) (ReportArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       useSSL,
		Region:       "us-east-1",
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, err
	}
	return &minioReportArchive{client: client, bucket: bucket}, nil
}

func reportObjectName(report *models.RenewalJobReport) string {
	return fmt.Sprintf("renewals/%s/%s.json", report.StartedAt.UTC().Format("2006/01/02"), report.ID)
}

func (m *minioReportArchive) Archive(ctx context.Context, report *models.RenewalJobReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = m.client.PutObject(ctx, m.bucket, reportObjectName(report), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to archive report: %w", err)
	}
	return nil
}

func (m *minioReportArchive) EnsureBucketExists(ctx context.Context) error {
	found, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !found {
		return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
	}
	return nil
}
