package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gbpufscar/revfirst-social-sub001/internal/models"
	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
)

type fakeProvider struct {
	data        []byte
	contentType string
	err         error
	calls       int
}

func (f *fakeProvider) Render(ctx context.Context, prompt string) ([]byte, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, f.contentType, nil
}

type fakeObjects struct {
	objects map[string][]byte
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return err
	}
	f.objects[key] = buf.Bytes()
	return nil
}

func (f *fakeObjects) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

func newMediaFixture(t *testing.T) (*MediaService, *store.MemoryStore, *fakeProvider, *fakeObjects) {
	t.Helper()
	st := store.NewMemoryStore()
	provider := &fakeProvider{data: []byte("png-bytes"), contentType: "image/png"}
	objects := newFakeObjects()
	return NewMediaService(st, provider, objects, zap.NewNop()), st, provider, objects
}

func TestRequestImageSucceeds(t *testing.T) {
	ctx := context.Background()
	media, st, provider, objects := newMediaFixture(t)
	scope := testScope(t, "ws-a")

	job, err := media.RequestImage(ctx, scope, ImageRequest{
		Channel: "post", Prompt: "sunset over the bay",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MediaJobStatusSucceeded, job.Status)
	require.NotEmpty(t, job.ResultAssetID)
	assert.Equal(t, 1, provider.calls)
	assert.Len(t, objects.objects, 1)

	stored, err := st.GetMediaJob(ctx, scope, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MediaJobStatusSucceeded, stored.Status)
}

func TestRequestImageDedupsOnIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	media, _, provider, _ := newMediaFixture(t)
	scope := testScope(t, "ws-a")

	first, err := media.RequestImage(ctx, scope, ImageRequest{
		Channel: "post", Prompt: "sunset", IdempotencyKey: "img-1",
	})
	require.NoError(t, err)

	second, err := media.RequestImage(ctx, scope, ImageRequest{
		Channel: "post", Prompt: "sunset", IdempotencyKey: "img-1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ResultAssetID, second.ResultAssetID)
	assert.Equal(t, 1, provider.calls)
}

func TestRequestImageProviderFailure(t *testing.T) {
	ctx := context.Background()
	media, st, provider, objects := newMediaFixture(t)
	provider.err = errors.New("render timed out")
	scope := testScope(t, "ws-a")

	job, err := media.RequestImage(ctx, scope, ImageRequest{Channel: "post", Prompt: "sunset"})
	require.NoError(t, err)
	assert.Equal(t, models.MediaJobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "render timed out")
	assert.Empty(t, objects.objects)

	stored, err := st.GetMediaJob(ctx, scope, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MediaJobStatusFailed, stored.Status)
}

func TestRequestImageUploadFailure(t *testing.T) {
	ctx := context.Background()
	media, _, _, objects := newMediaFixture(t)
	objects.putErr = errors.New("bucket unavailable")
	scope := testScope(t, "ws-a")

	job, err := media.RequestImage(ctx, scope, ImageRequest{Channel: "post", Prompt: "sunset"})
	require.NoError(t, err)
	assert.Equal(t, models.MediaJobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "bucket unavailable")
}

func TestRequestImageRequiresPrompt(t *testing.T) {
	media, _, _, _ := newMediaFixture(t)
	_, err := media.RequestImage(context.Background(), testScope(t, "ws-a"), ImageRequest{Channel: "post"})
	assert.Error(t, err)
}

func TestRequestImageRerunsQueuedJob(t *testing.T) {
	ctx := context.Background()
	media, st, provider, _ := newMediaFixture(t)
	provider.err = errors.New("render timed out")
	scope := testScope(t, "ws-a")

	job, err := media.RequestImage(ctx, scope, ImageRequest{
		Channel: "post", Prompt: "sunset", IdempotencyKey: "img-1",
	})
	require.NoError(t, err)
	require.Equal(t, models.MediaJobStatusFailed, job.Status)

	// Terminal jobs are returned as-is; no second render happens.
	provider.err = nil
	again, err := media.RequestImage(ctx, scope, ImageRequest{
		Channel: "post", Prompt: "sunset", IdempotencyKey: "img-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MediaJobStatusFailed, again.Status)
	assert.Equal(t, 1, provider.calls)

	stored, err := st.GetMediaJob(ctx, scope, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MediaJobStatusFailed, stored.Status)
}
