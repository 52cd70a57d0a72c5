package gcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/shelfsight/shelfsight-backend/internal/logger"
)

// ScanImageArchive keeps the original image bytes of each scan, keyed
// by fingerprint, so the correction loop can re-analyze a
// misidentified photo without asking the user to retake it.
type ScanImageArchive interface {
	SaveScanImage(ctx context.Context, fingerprint, mimeType string, data []byte) error
	LoadScanImage(ctx context.Context, fingerprint string) ([]byte, string, error)
	DeleteScanImage(ctx context.Context, fingerprint string) error
}

type scanImageArchive struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
}

func NewScanImageArchive(log *logger.Logger) (ScanImageArchive, error) {
	serviceLog := log.With("service", "ScanImageArchive")

	bucketName := strings.TrimSpace(os.Getenv("SCAN_GCS_BUCKET_NAME"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var SCAN_GCS_BUCKET_NAME")
	}

	ctx := context.Background()
	opts := ClientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &scanImageArchive{
		log:           serviceLog,
		storageClient: client,
		bucketName:    bucketName,
	}, nil
}

func scanObjectKey(fingerprint string) string {
	return "scans/" + fingerprint
}

func (a *scanImageArchive) SaveScanImage(ctx context.Context, fingerprint, mimeType string, data []byte) error {
	if fingerprint == "" {
		return fmt.Errorf("fingerprint is empty")
	}
	if len(data) == 0 {
		return fmt.Errorf("image data is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	w := a.storageClient.Bucket(a.bucketName).Object(scanObjectKey(fingerprint)).NewWriter(ctx)
	if mimeType != "" {
		w.ContentType = mimeType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write scan image: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close scan image writer: %w", err)
	}
	return nil
}

func (a *scanImageArchive) LoadScanImage(ctx context.Context, fingerprint string) ([]byte, string, error) {
	if fingerprint == "" {
		return nil, "", fmt.Errorf("fingerprint is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	obj := a.storageClient.Bucket(a.bucketName).Object(scanObjectKey(fingerprint))
	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("open scan image: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read scan image: %w", err)
	}
	return data, r.Attrs.ContentType, nil
}

func (a *scanImageArchive) DeleteScanImage(ctx context.Context, fingerprint string) error {
	if fingerprint == "" {
		return fmt.Errorf("fingerprint is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return a.storageClient.Bucket(a.bucketName).Object(scanObjectKey(fingerprint)).Delete(ctx)
}
