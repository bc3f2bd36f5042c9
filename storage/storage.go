// Package storage uploads user avatars to object storage.
package storage

import (
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AvatarStore saves an avatar image and returns its public URL.
type AvatarStore interface {
	UploadAvatar(ctx context.Context, userID string, fh *multipart.FileHeader, contentType string) (string, error)
	DeleteByURL(ctx context.Context, publicURL string) error
}

func avatarObjectName(userID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("avatars/%s/%d-%s%s", userID, time.Now().UTC().Unix(), uuid.NewString(), ext)
}

func contentTypeFor(fh *multipart.FileHeader, detected string) string {
	if detected != "" {
		return detected
	}
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(fh.Filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
