package storage

import (
	"context"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ObjectStore accepts raw bytes under a destination key and returns a URL the
// asset can be fetched from.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// AssetKey builds a fresh object key for a product asset. Every call yields a new
// path so repeated uploads never overwrite each other.
func AssetKey(productID, kind, contentType string) string {
	return path.Join("products", productID, kind, uuid.NewString()+ExtensionFor(contentType))
}

// ExtensionFor maps an image content type onto a file extension.
func ExtensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
