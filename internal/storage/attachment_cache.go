// Package storage provides the S3/MinIO-backed cache for attachment
// content fetched from the mail provider.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/adityaankur/graphmail/internal/config"
	"github.com/adityaankur/graphmail/internal/graph"
)

// AttachmentCache stores fetched attachment payloads in S3/MinIO so
// repeat downloads skip the provider round-trip.
type AttachmentCache struct {
	client *s3.Client
	bucket string
}

// NewAttachmentCache creates a cache backed by S3/MinIO
func NewAttachmentCache(cfg *config.StorageConfig) (*AttachmentCache, error) {
	// Handle case where endpoint already includes protocol
	var endpointURL string
	if strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://") {
		endpointURL = cfg.Endpoint
	} else {
		protocol := "http"
		if cfg.UseSSL {
			protocol = "https"
		}
		endpointURL = protocol + "://" + cfg.Endpoint
	}

	// Custom endpoint and path-style addressing for MinIO compatibility
	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		BaseEndpoint: aws.String(endpointURL),
		UsePathStyle: true,
	})

	return &AttachmentCache{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// objectKey builds the storage key for one attachment
func objectKey(messageID, attachmentID string) string {
	return messageID + "/" + attachmentID + ".json"
}

// Get returns a cached attachment, or (nil, nil) on a cache miss
func (c *AttachmentCache) Get(ctx context.Context, messageID, attachmentID string) (*graph.Attachment, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey(messageID, attachmentID)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached attachment: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached attachment body: %w", err)
	}

	var att graph.Attachment
	if err := json.Unmarshal(data, &att); err != nil {
		return nil, fmt.Errorf("cached attachment is corrupt: %w", err)
	}
	return &att, nil
}

// Put stores an attachment payload in the cache
func (c *AttachmentCache) Put(ctx context.Context, messageID, attachmentID string, att *graph.Attachment) error {
	data, err := json.Marshal(att)
	if err != nil {
		return fmt.Errorf("failed to encode attachment: %w", err)
	}

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(objectKey(messageID, attachmentID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to store attachment: %w", err)
	}
	return nil
}
