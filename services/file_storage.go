package services

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/logger"
	"contract-archive-platform/utils"
)

// FileStorage owns the upload directory layout. Stored files live under
// {UPLOAD_DIR}/YYYY/MM/DD/{uuid}{ext}; database rows keep the relative path.
type FileStorage struct {
	root    string
	maxSize int64
	formats []string
}

func NewFileStorage(cfg *config.Config) *FileStorage {
	return &FileStorage{
		root:    cfg.UploadDir,
		maxSize: cfg.MaxFileSize,
		formats: cfg.SupportedFormats,
	}
}

// EnsureDirs creates the upload root and its processed/temp subdirectories.
func (fs *FileStorage) EnsureDirs() error {
	for _, dir := range []string{fs.root, filepath.Join(fs.root, "processed"), filepath.Join(fs.root, "temp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return utils.Wrap(utils.KindIO, fmt.Sprintf("创建上传目录失败: %s", dir), err)
		}
	}
	return nil
}

func (fs *FileStorage) Root() string     { return fs.root }
func (fs *FileStorage) MaxSize() int64   { return fs.maxSize }
func (fs *FileStorage) Formats() []string { return fs.formats }

// FullPath resolves a stored relative path against the upload root.
func (fs *FileStorage) FullPath(relPath string) string {
	return filepath.Join(fs.root, filepath.FromSlash(relPath))
}

// CheckExtension validates the upload's extension against the configured
// format allowlist.
func (fs *FileStorage) CheckExtension(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, f := range fs.formats {
		if ext == f {
			return nil
		}
	}
	return utils.E(utils.KindValidation,
		fmt.Sprintf("不支持的文件格式 %s，支持格式：%s", ext, strings.Join(fs.formats, ", ")))
}

// Save streams the upload into a date-partitioned directory under a random
// name and returns the relative path plus the byte count written. The partial
// file is removed when the copy fails.
func (fs *FileStorage) Save(file multipart.File, filename string) (string, int64, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	relPath := path.Join(time.Now().Format("2006/01/02"), uuid.New().String()+ext)
	fullPath := fs.FullPath(relPath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", 0, utils.Wrap(utils.KindIO, "创建上传目录失败", err)
	}

	dst, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, utils.Wrap(utils.KindIO, "文件保存失败", err)
	}

	size, err := io.Copy(dst, file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(fullPath)
		return "", 0, utils.Wrap(utils.KindIO, "文件保存失败", err)
	}

	return relPath, size, nil
}

// Delete removes a stored file; it reports whether a file was removed.
func (fs *FileStorage) Delete(relPath string) bool {
	if relPath == "" {
		return false
	}
	fullPath := fs.FullPath(relPath)
	if _, err := os.Stat(fullPath); err != nil {
		return false
	}
	if err := os.Remove(fullPath); err != nil {
		logger.Warn("file delete failed", "path", fullPath, "error", err)
		return false
	}
	return true
}

// Exists reports whether the stored file is still on disk.
func (fs *FileStorage) Exists(relPath string) bool {
	if relPath == "" {
		return false
	}
	_, err := os.Stat(fs.FullPath(relPath))
	return err == nil
}

// ValidatePDF opens the stored PDF and returns its page count. Unreadable
// documents fail with a validation error so the upload can be rejected.
func ValidatePDF(fullPath string) (int, error) {
	f, reader, err := pdf.Open(fullPath)
	if err != nil {
		return 0, utils.Wrap(utils.KindValidation, "PDF文件无法读取，请确认文件未损坏", err)
	}
	defer f.Close()

	pages := reader.NumPage()
	if pages == 0 {
		return 0, utils.E(utils.KindValidation, "PDF文件没有有效页面")
	}
	return pages, nil
}
