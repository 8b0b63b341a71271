// Package export writes query results to S3-compatible object storage as
// JSON documents, one object per exported result.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/szqshan/DataMaster-MCP/internal/errs"
	"github.com/szqshan/DataMaster-MCP/internal/logger"
	"github.com/szqshan/DataMaster-MCP/internal/query"
)

// Config holds the object-store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Exporter uploads serialized results to a single bucket. It is safe for
// concurrent use by multiple goroutines.
type Exporter struct {
	client *miniogo.Client
	bucket string
	log    *logger.Logger
}

// New creates an Exporter and verifies the target bucket exists, creating
// it when absent.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Exporter, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errs.New(errs.ErrKindConfigInvalid, "export requires endpoint and bucket")
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectFailed, "failed to create object store client", err)
	}

	e := &Exporter{client: client, bucket: cfg.Bucket, log: log}
	if err := e.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Exporter) ensureBucket(ctx context.Context) error {
	exists, err := e.client.BucketExists(ctx, e.bucket)
	if err != nil {
		return errs.Wrap(errs.ErrKindConnectFailed, "failed to check export bucket", err)
	}
	if exists {
		return nil
	}
	if err := e.client.MakeBucket(ctx, e.bucket, miniogo.MakeBucketOptions{}); err != nil {
		return errs.Wrap(errs.ErrKindConnectFailed, "failed to create export bucket", err)
	}
	e.log.Infof("created export bucket %s", e.bucket)
	return nil
}

// Store uploads result as a JSON object. An empty key gets a generated
// name of the form exports/<database>/<UTC timestamp>.json. The object key
// actually used is returned.
func (e *Exporter) Store(ctx context.Context, database, key string, result *query.Result) (string, error) {
	if result == nil {
		return "", errs.New(errs.ErrKindInvalidInput, "nothing to export")
	}
	if key == "" {
		key = fmt.Sprintf("exports/%s/%s.json", database, time.Now().UTC().Format("20060102T150405Z"))
	}

	buf, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.ErrKindSerialization, "failed to serialize result", err)
	}

	_, err = e.client.PutObject(ctx, e.bucket, key, bytes.NewReader(buf), int64(len(buf)),
		miniogo.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", errs.Wrap(errs.ErrKindConnectFailed, "failed to upload export object", err)
	}

	e.log.Infof("exported %d row(s) to %s/%s", result.RowCount, e.bucket, key)
	return key, nil
}

// PresignGetURL returns a time-limited download URL for an exported object.
func (e *Exporter) PresignGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := e.client.PresignedGetObject(ctx, e.bucket, key, ttl, nil)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindConnectFailed, "failed to generate presigned URL", err)
	}
	return u.String(), nil
}
