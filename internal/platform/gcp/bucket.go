package gcp

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/adforge-backend/internal/platform/logger"
)

// BucketService writes render outputs to a single GCS bucket.
type BucketService interface {
	UploadFile(ctx context.Context, key string, file io.Reader, contentType string) error
	GetPublicURL(key string) string
	Close() error
}

type BucketConfig struct {
	Name         string
	CDNDomain    string
	EmulatorHost string
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucket        string
	publicBaseURL string
}

func NewBucketService(log *logger.Logger, cfg BucketConfig) (BucketService, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("missing bucket name")
	}
	serviceLog := log.With("service", "BucketService")

	ctx := context.Background()
	var opts []option.ClientOption
	emulator := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
	if emulator != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", emulator)
		opts = append(opts, option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	base, err := publicBaseURL(name, cfg.CDNDomain, emulator)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	serviceLog.Info("Object storage initialized", "bucket", name, "public_base_url", base, "emulator_host", emulator)

	return &bucketService{
		log:           serviceLog,
		storageClient: client,
		bucket:        name,
		publicBaseURL: base,
	}, nil
}

func (bs *bucketService) UploadFile(ctx context.Context, key string, file io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.storageClient.Bucket(bs.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (bs *bucketService) GetPublicURL(key string) string {
	return bs.publicBaseURL + "/" + strings.TrimLeft(key, "/")
}

func (bs *bucketService) Close() error {
	if bs == nil || bs.storageClient == nil {
		return nil
	}
	return bs.storageClient.Close()
}

func publicBaseURL(bucket, cdnDomain, emulator string) (string, error) {
	if cdn := strings.TrimSpace(cdnDomain); cdn != "" {
		if !strings.Contains(cdn, "://") {
			cdn = "https://" + cdn
		}
		parsed, err := url.Parse(cdn)
		if err != nil || parsed.Host == "" {
			return "", fmt.Errorf("invalid cdn domain %q", cdnDomain)
		}
		return strings.TrimRight(cdn, "/"), nil
	}
	if emulator != "" {
		return emulator + "/" + bucket, nil
	}
	return "https://storage.googleapis.com/" + bucket, nil
}
