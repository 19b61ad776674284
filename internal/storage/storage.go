// Package storage signs URLs for layer files in object storage and
// resolves layers to sources the geoprocessing service can read.
package storage

import (
	"context"
	"io"
	"time"
)

// HTTP methods a signed URL may allow.
const (
	MethodGet = "GET"
	MethodPut = "PUT"
)

// Store is the object storage the service keeps layer files in.
type Store interface {
	SignedURL(ctx context.Context, key, method string, ttl time.Duration) (string, error)
	Size(ctx context.Context, key string) (int64, error)
	Upload(ctx context.Context, key string, r io.Reader) error
}

// UploadKey is where a user's generated file for layerID is written.
func UploadKey(userID, projectID, layerID, ext string) string {
	return "uploads/" + userID + "/" + projectID + "/" + layerID + ext
}
