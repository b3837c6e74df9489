package supabase

import (
	"bytes"
	"context"
	"fmt"
	"io"

	storage_go "github.com/supabase-community/storage-go"

	"github.com/dennislee928/carbontrade/storage"
)

// BlobStore keeps uploads in a Supabase storage bucket
type BlobStore struct {
	bucket string
	st     *storage_go.Client
}

func (c *Client) BlobStore() (*BlobStore, error) {
	if c.cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: no storage bucket", ErrNotConfigured)
	}
	return &BlobStore{bucket: c.cfg.Bucket, st: c.sb.Storage}, nil
}

func (b *BlobStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	upsert := true
	_, err = b.st.UploadFile(b.bucket, key, r, storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return b.st.GetPublicUrl(b.bucket, key).SignedURL, nil
}

func (b *BlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}
	data, err := b.st.DownloadFile(b.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *BlobStore) Delete(ctx context.Context, key string) error {
	key, err := storage.CleanKey(key)
	if err != nil {
		return err
	}
	if _, err := b.st.RemoveFile(b.bucket, []string{key}); err != nil {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	return nil
}
