package photos

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore serves albums out of a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore connects to the bucket. When credentialsPath is empty the
// client falls back to application default credentials.
func NewGCSStore(ctx context.Context, bucket string, credentialsPath string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("photos: bucket name is required")
	}
	var options []option.ClientOption
	if credentialsPath != "" {
		options = append(options, option.WithCredentialsFile(credentialsPath))
	}
	client, err := storage.NewClient(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("photos: create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(cleaned).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("photos: write object %s: %w", cleaned, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("photos: close writer for %s: %w", cleaned, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(s.bucket).Object(cleaned).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("photos: open object %s: %w", cleaned, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	err = s.client.Bucket(s.bucket).Object(cleaned).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	cleaned, err := cleanKey(prefix)
	if err != nil {
		return nil, err
	}
	objects := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: cleaned + "/"})
	var keys []string
	for {
		attrs, err := objects.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("photos: list objects under %s: %w", cleaned, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
