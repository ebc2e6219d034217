package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/gbpufscar/revfirst-social-sub001/internal/config"
	"github.com/gbpufscar/revfirst-social-sub001/internal/models"
	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
	"github.com/gbpufscar/revfirst-social-sub001/pkg/util"
)

// ImageProvider renders an image for a prompt and returns the bytes plus
// their content type.
type ImageProvider interface {
	Render(ctx context.Context, prompt string) ([]byte, string, error)
}

// WebhookImageProvider posts the prompt to an external rendering webhook
// and expects the image bytes back.
type WebhookImageProvider struct {
	endpoint string
	client   *http.Client
}

func NewWebhookImageProvider(endpoint string) *WebhookImageProvider {
	return &WebhookImageProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *WebhookImageProvider) Render(ctx context.Context, prompt string) ([]byte, string, error) {
	if p.endpoint == "" {
		return nil, "", errors.New("image provider webhook is not configured")
	}
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("render webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("render webhook returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = "image/png"
	}
	return data, contentType, nil
}

// ObjectStore persists rendered assets.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PublicURL(key string) string
}

// MinioStore is the MinIO-backed ObjectStore.
type MinioStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(cfg *config.MediaConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/")}, nil
}

func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (m *MinioStore) PublicURL(key string) string {
	if m.publicBaseURL == "" {
		return ""
	}
	return m.publicBaseURL + "/" + m.bucket + "/" + key
}

// MediaService renders images through a provider and stores the results as
// workspace-scoped assets. Jobs dedup on their idempotency key, so a
// retried pipeline tick returns the already produced asset without a
// second render.
type MediaService struct {
	store    store.Store
	provider ImageProvider
	objects  ObjectStore
	logger   *zap.Logger
}

func NewMediaService(st store.Store, provider ImageProvider, objects ObjectStore, logger *zap.Logger) *MediaService {
	return &MediaService{store: st, provider: provider, objects: objects, logger: logger}
}

// ImageRequest describes one image to render.
type ImageRequest struct {
	Channel        string
	Prompt         string
	SourceKind     string
	SourceRefID    string
	IdempotencyKey string
}

// RequestImage creates (or finds) the job for the request and runs it to a
// terminal state. A duplicate idempotency key returns the existing job.
func (s *MediaService) RequestImage(ctx context.Context, scope store.Scope, req ImageRequest) (*models.MediaJob, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}

	job := &models.MediaJob{
		ID:          uuid.NewString(),
		WorkspaceID: scope.WorkspaceID(),
		Channel:     req.Channel,
		Prompt:      req.Prompt,
		SourceKind:  req.SourceKind,
		SourceRefID: req.SourceRefID,
		Status:      models.MediaJobStatusQueued,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		job.IdempotencyKey = &key
	}

	job, created, err := s.store.CreateMediaJob(ctx, scope, job)
	if err != nil {
		return nil, err
	}
	if !created {
		// Re-run only jobs that never reached a terminal state.
		if job.Status != models.MediaJobStatusQueued {
			return job, nil
		}
	}
	return s.runJob(ctx, scope, job)
}

// GetJob returns one media job.
func (s *MediaService) GetJob(ctx context.Context, scope store.Scope, id string) (*models.MediaJob, error) {
	return s.store.GetMediaJob(ctx, scope, id)
}

func (s *MediaService) runJob(ctx context.Context, scope store.Scope, job *models.MediaJob) (*models.MediaJob, error) {
	data, contentType, err := s.provider.Render(ctx, job.Prompt)
	if err != nil {
		return s.failJob(ctx, scope, job, err)
	}

	key := fmt.Sprintf("%s/%s/%s%s", scope.WorkspaceID(), time.Now().UTC().Format("2006/01"), job.ID, extensionFor(contentType))
	if err := s.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return s.failJob(ctx, scope, job, err)
	}

	asset := &models.MediaAsset{
		ID:          uuid.NewString(),
		WorkspaceID: scope.WorkspaceID(),
		Channel:     job.Channel,
		ObjectKey:   key,
		PublicURL:   s.objects.PublicURL(key),
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
	}
	if err := s.store.CreateMediaAsset(ctx, scope, asset); err != nil {
		return s.failJob(ctx, scope, job, err)
	}

	job.Status = models.MediaJobStatusSucceeded
	job.ResultAssetID = asset.ID
	job.ErrorMessage = ""
	if err := s.store.UpdateMediaJob(ctx, scope, job); err != nil {
		return nil, err
	}

	s.logger.Info("Media job succeeded",
		zap.String("workspace_id", scope.WorkspaceID()),
		zap.String("job_id", job.ID),
		zap.String("object_key", key))
	return job, nil
}

func (s *MediaService) failJob(ctx context.Context, scope store.Scope, job *models.MediaJob, cause error) (*models.MediaJob, error) {
	job.Status = models.MediaJobStatusFailed
	job.ErrorMessage = util.Truncate(cause.Error(), 255)
	if err := s.store.UpdateMediaJob(ctx, scope, job); err != nil {
		return nil, err
	}
	s.logger.Warn("Media job failed",
		zap.String("workspace_id", scope.WorkspaceID()),
		zap.String("job_id", job.ID),
		zap.Error(cause))
	return job, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
