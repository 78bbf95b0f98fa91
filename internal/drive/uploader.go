// Package drive uploads exports to a Google Drive folder using a service
// account.
package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	apperrors "asrsexport/internal/errors"
)

// CSVMimeType is the content type every export is stored with
const CSVMimeType = "text/csv"

// Config selects the credentials and destination folder
type Config struct {
	CredentialsFile string
	FolderID        string
}

// Uploader creates files in one Drive folder
type Uploader struct {
	service  *drivev3.Service
	folderID string
	logger   *slog.Logger
}

// NewUploader reads the service account key and builds a Drive client.
// A missing folder id or an unreadable key is a CONFIG error.
func NewUploader(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Uploader, error) {
	if cfg.FolderID == "" {
		return nil, apperrors.NewConfigError("drive folder id is required", nil)
	}
	if cfg.CredentialsFile == "" {
		return nil, apperrors.NewConfigError("drive credentials file is required", nil)
	}

	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, apperrors.NewConfigError("read drive credentials", err).
			WithContext("file", cfg.CredentialsFile)
	}
	if err := checkServiceAccountKey(credentialsJSON); err != nil {
		return nil, apperrors.NewConfigError("invalid drive credentials", err).
			WithContext("file", cfg.CredentialsFile)
	}

	clientOpts := append([]option.ClientOption{
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(drivev3.DriveFileScope),
	}, opts...)

	service, err := drivev3.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, apperrors.NewConfigError("create drive service", err)
	}

	return NewUploaderWithService(service, cfg.FolderID), nil
}

// NewUploaderWithService wraps an already configured Drive service
func NewUploaderWithService(service *drivev3.Service, folderID string) *Uploader {
	return &Uploader{
		service:  service,
		folderID: folderID,
		logger:   slog.Default().With(slog.String("component", "drive")),
	}
}


// Upload creates a new file called name in folderID, or in the configured
// folder when folderID is empty, with the contents of localPath and returns
// its Drive id. A repeated upload of the same name creates another file.
func (u *Uploader) Upload(ctx context.Context, localPath, name, folderID string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", apperrors.NewUploadError("open local file", err).WithContext("path", localPath)
	}
	defer f.Close()

	if name == "" {
		name = filepath.Base(localPath)
	}
	if folderID == "" {
		folderID = u.folderID
	}

	meta := &drivev3.File{
		Name:     name,
		Parents:  []string{folderID},
		MimeType: CSVMimeType,
	}

	created, err := u.service.Files.Create(meta).
		Media(f, googleapi.ContentType(CSVMimeType)).
		SupportsAllDrives(true).
		Fields("id", "name").
		Context(ctx).
		Do()
	if err != nil {
		return "", apperrors.Classify(err, apperrors.ErrTypeUpload, "create drive file").
			WithContext("name", name).
			WithContext("status", httpStatus(err))
	}

	u.logger.InfoContext(ctx, "uploaded export",
		slog.String("name", name),
		slog.String("file_id", created.Id),
		slog.String("folder_id", folderID))

	return created.Id, nil
}

// checkServiceAccountKey rejects keys that cannot authenticate
func checkServiceAccountKey(data []byte) error {
	var key struct {
		Type        string `json:"type"`
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(data, &key); err != nil {
		return err
	}
	if key.Type != "service_account" {
		return fmt.Errorf("credentials type %q is not service_account", key.Type)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return fmt.Errorf("service account key is missing client_email or private_key")
	}
	return nil
}

func httpStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
