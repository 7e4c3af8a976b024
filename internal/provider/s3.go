package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Client exposes a project-scoped bucket on any S3-compatible endpoint.
type S3Client struct {
	client *minio.Client
	bucket string
}

// NewS3Client creates an uninitialized S3 client.
func NewS3Client() *S3Client {
	return &S3Client{}
}

func (c *S3Client) Initialize(ctx context.Context, config map[string]any) error {
	endpoint, err := configString(config, "endpoint")
	if err != nil {
		return err
	}
	accessKey, err := configString(config, "access_key")
	if err != nil {
		return err
	}
	secretKey, err := configString(config, "secret_key")
	if err != nil {
		return err
	}
	bucket, err := configString(config, "bucket")
	if err != nil {
		return err
	}
	region, _ := config["region"].(string)
	useSSL, _ := config["use_ssl"].(bool)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return fmt.Errorf("failed to create s3 client: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", bucket)
	}

	c.client = client
	c.bucket = bucket
	return nil
}

func (c *S3Client) Call(ctx context.Context, operation string, args map[string]any) (any, error) {
	switch operation {
	case "list_objects":
		prefix, _ := args["prefix"].(string)
		keys := []string{}
		for obj := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				return nil, obj.Err
			}
			keys = append(keys, obj.Key)
		}
		return keys, nil
	case "get_object":
		key, err := configString(args, "key")
		if err != nil {
			return nil, err
		}
		obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, err
		}
		defer obj.Close()
		data, err := io.ReadAll(obj)
		if err != nil {
			var respErr minio.ErrorResponse
			if errors.As(err, &respErr) && respErr.Code == "NoSuchKey" {
				return nil, fmt.Errorf("object %s not found", key)
			}
			return nil, err
		}
		return string(data), nil
	case "put_object":
		key, err := configString(args, "key")
		if err != nil {
			return nil, err
		}
		content, _ := args["content"].(string)
		contentType, _ := args["content_type"].(string)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		_, err = c.client.PutObject(ctx, c.bucket, key, strings.NewReader(content), int64(len(content)),
			minio.PutObjectOptions{ContentType: contentType})
		if err != nil {
			return nil, err
		}
		return map[string]any{"key": key, "size": len(content)}, nil
	default:
		return nil, fmt.Errorf("s3 %q: %w", operation, ErrUnknownOperation)
	}
}

func (c *S3Client) Cleanup() error {
	c.client = nil
	return nil
}
