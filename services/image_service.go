package services

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kendall-kelly/support-chat-api/utils"
)

// ImageService handles chat image upload, retrieval, and deletion
type ImageService interface {
	// UploadImage validates and uploads an image file, returns the storage key
	UploadImage(ctx context.Context, fileHeader *multipart.FileHeader) (string, error)

	// GetImageURL generates a URL for accessing an uploaded image
	GetImageURL(ctx context.Context, imageKey string) (string, error)

	// DeleteImage removes an image from storage
	DeleteImage(ctx context.Context, imageKey string) error
}

// chatImagePrefix namespaces chat attachments in the bucket
const chatImagePrefix = "chat-images/"

// StorageImageService implements ImageService on an ObjectStorage
type StorageImageService struct {
	storage ObjectStorage
	urlTTL  time.Duration
}

// NewStorageImageService creates an image service whose URLs expire after an hour
func NewStorageImageService(storage ObjectStorage) *StorageImageService {
	return &StorageImageService{storage: storage, urlTTL: time.Hour}
}

// UploadImage validates the file name, size and content, then stores it under a random key
func (s *StorageImageService) UploadImage(ctx context.Context, fileHeader *multipart.FileHeader) (string, error) {
	if err := utils.ValidateImageFile(fileHeader); err != nil {
		return "", err
	}

	file, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, utils.MaxFileSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	contentType := http.DetectContentType(content)
	ext, ok := utils.ImageExtension(contentType)
	if !ok {
		return "", &utils.FileUploadError{
			Code:    "INVALID_FILE_CONTENT",
			Message: "File content is not a PNG or JPEG image",
		}
	}

	key := chatImagePrefix + uuid.NewString() + ext
	if err := s.storage.PutObject(ctx, key, contentType, content); err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	return key, nil
}

// GetImageURL generates a presigned URL for accessing an image
func (s *StorageImageService) GetImageURL(ctx context.Context, imageKey string) (string, error) {
	if imageKey == "" {
		return "", nil
	}

	url, err := s.storage.PresignGet(ctx, imageKey, s.urlTTL)
	if err != nil {
		return "", fmt.Errorf("failed to generate image URL: %w", err)
	}
	return url, nil
}

// DeleteImage deletes an image from storage
func (s *StorageImageService) DeleteImage(ctx context.Context, imageKey string) error {
	if imageKey == "" {
		return nil
	}

	if err := s.storage.DeleteObject(ctx, imageKey); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}
