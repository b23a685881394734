package utils

import (
	"os"
	"strings"
)

// BuildObjectAccessURL turns an object key into a browser-reachable URL.
// STORAGE_ACCESS_BASE_URL wins when set (supports a {objectKey} placeholder);
// otherwise the GCS_URL/GCS_BUCKET pair is used. Falls back to the raw key so
// callers always get something loggable.
func BuildObjectAccessURL(objectKey string) string {
	base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL"))
	if base != "" {
		if strings.Contains(base, "{objectKey}") {
			return strings.ReplaceAll(base, "{objectKey}", objectKey)
		}
		return strings.TrimRight(base, "/") + "/" + objectKey
	}

	gcsURL := strings.TrimSpace(os.Getenv("GCS_URL"))
	gcsBucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if gcsURL != "" && gcsBucket != "" {
		return "https://" + gcsURL + "/" + gcsBucket + "/" + objectKey
	}

	return objectKey
}
