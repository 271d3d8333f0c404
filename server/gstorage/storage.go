package gstorage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	publicURLBase  = "https://storage.googleapis.com"
	uploadsFolder  = "uploads"
	backupsFolder  = "backups"
	requestTimeout = 50 * time.Second
)

var ErrObjectNotExist = storage.ErrObjectNotExist

type GStorage struct {
	storageClient *storage.Client
	bucket        string
	prefix        string
	logger        *zap.SugaredLogger
}

func NewGStorage(credentialsFilePath, bucket, prefix string, logger *zap.SugaredLogger) (*GStorage, error) {
	var client *storage.Client
	var err error

	if credentialsFilePath != "" {
		client, err = storage.NewClient(context.Background(), option.WithCredentialsFile(credentialsFilePath))
	} else {
		client, err = storage.NewClient(context.Background())
	}

	if err != nil {
		return nil, fmt.Errorf("NewGStorage: %v", err)
	}

	return &GStorage{storageClient: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

// UploadImage stores data under a unique object name and returns its public URL.
func (gs *GStorage) UploadImage(ctx context.Context, data []byte, filename string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	object := objectName(gs.prefix, uploadsFolder, uniqueName(filename))

	wc := gs.storageClient.Bucket(gs.bucket).Object(object).NewWriter(ctx)
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return "", fmt.Errorf("Writer.Write: %v", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("Writer.Close: %v", err)
	}

	gs.logger.Infof("Image %v uploaded.", object)
	return publicURL(gs.bucket, object), nil
}

// UploadFile copies the local file at filePath to the backups folder.
func (gs *GStorage) UploadFile(ctx context.Context, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("os.Open: %v", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	object := BackupObjectName(gs.prefix, filePath)
	wc := gs.storageClient.Bucket(gs.bucket).Object(object).NewWriter(ctx)
	if _, err = io.Copy(wc, f); err != nil {
		wc.Close()
		return fmt.Errorf("io.Copy: %v", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("Writer.Close: %v", err)
	}

	gs.logger.Infof("Blob %v uploaded.", object)
	return nil
}

// DownloadFile downloads an object to a file.
func (gs *GStorage) DownloadFile(ctx context.Context, object string, destFileName string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	rc, err := gs.storageClient.Bucket(gs.bucket).Object(object).NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return err
	}
	if err != nil {
		return fmt.Errorf("Object(%q).NewReader: %v", object, err)
	}
	defer rc.Close()

	f, err := os.OpenFile(destFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("os.OpenFile: %v", err)
	}

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("io.Copy: %v", err)
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("f.Close: %v", err)
	}

	gs.logger.Infof("Blob %v downloaded to local file %v", object, destFileName)
	return nil
}

func (gs *GStorage) Prefix() string {
	return gs.prefix
}

func (gs *GStorage) Close() error {
	return gs.storageClient.Close()
}

// BackupObjectName is the object a local file at filePath is backed up to.
func BackupObjectName(prefix, filePath string) string {
	return objectName(prefix, backupsFolder, filepath.Base(filePath))
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func objectName(prefix, folder, name string) string {
	return path.Join(prefix, folder, name)
}

func uniqueName(filename string) string {
	base := filepath.Base(filename)
	if base == "." || base == "/" || base == "" {
		base = "image"
	}
	return fmt.Sprintf("%s-%s", uuid.NewString(), base)
}

func publicURL(bucket, object string) string {
	return fmt.Sprintf("%s/%s/%s", publicURLBase, bucket, object)
}
