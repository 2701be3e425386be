package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/database"
	"contract-archive-platform/models"
	"contract-archive-platform/services"
	"contract-archive-platform/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return database.NewStore(db)
}

func TestExtractContractInfo(t *testing.T) {
	cases := []struct {
		filename string
		number   string
		name     string
	}{
		{"C230970483-劳动合同.pdf", "C230970483", "劳动合同"},
		{"C100-购销合同-补充协议.pdf", "C100", "购销合同-补充协议"},
		{"合同文件.pdf", "合同文件", "合同文件"},
		{"C100-.pdf", "C100-", "C100-"},
		{"-劳动合同.pdf", "-劳动合同", "-劳动合同"},
		{" C1 - 劳动合同 .pdf", "C1", "劳动合同"},
		{"archive/2024/C2-销售合同.pdf", "C2", "销售合同"},
	}
	for _, tc := range cases {
		number, name := extractContractInfo(tc.filename)
		if number != tc.number || name != tc.name {
			t.Errorf("extractContractInfo(%q) = (%q, %q), want (%q, %q)",
				tc.filename, number, name, tc.number, tc.name)
		}
	}
}

func queryContext(t *testing.T, target string) *gin.Context {
	t.Helper()
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c
}

func TestPageParams(t *testing.T) {
	cases := []struct {
		target string
		page   int
		size   int
	}{
		{"/contracts", 1, 20},
		{"/contracts?page=3&page_size=50", 3, 50},
		{"/contracts?page=0", 1, 20},
		{"/contracts?page=abc&page_size=-1", 1, 20},
		{"/contracts?page_size=500", 1, 100},
	}
	for _, tc := range cases {
		page, size := pageParams(queryContext(t, tc.target), "page_size")
		if page != tc.page || size != tc.size {
			t.Errorf("pageParams(%q) = (%d, %d), want (%d, %d)", tc.target, page, size, tc.page, tc.size)
		}
	}
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func countStoredFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk upload dir: %v", err)
	}
	return n
}

func TestUploadRejectsDuplicateNumber(t *testing.T) {
	store := newTestStore(t)
	if err := store.CreateContract(context.Background(), &models.Contract{
		ContractNumber: "C230970483",
		ContractName:   "劳动合同",
		FileName:       "C230970483-劳动合同.pdf",
		FilePath:       "2024/01/01/first.pdf",
		FileSize:       100,
		FileFormat:     "PDF",
	}); err != nil {
		t.Fatalf("seed contract: %v", err)
	}

	cfg := &config.Config{
		UploadDir:        t.TempDir(),
		MaxFileSize:      10 << 20,
		SupportedFormats: []string{".pdf"},
	}
	storage := services.NewFileStorage(cfg)
	if err := storage.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	queueClient := asynq.NewClient(asynq.RedisClientOpt{Addr: "127.0.0.1:1"})
	defer queueClient.Close()

	r := gin.New()
	r.POST("/upload", HandleContractUpload(cfg, store, storage, queueClient))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "C230970483-劳动合同.pdf", []byte("%PDF-1.4 minimal")))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp utils.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response json: %v", err)
	}
	if resp.Success {
		t.Error("duplicate upload reported success")
	}
	if resp.Message != "合同编号 C230970483 已存在" {
		t.Errorf("message = %q", resp.Message)
	}
	// The rejected file must not stay on disk.
	if n := countStoredFiles(t, cfg.UploadDir); n != 0 {
		t.Errorf("expected upload dir cleaned, found %d files", n)
	}
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	store := newTestStore(t)
	cfg := &config.Config{
		UploadDir:        t.TempDir(),
		MaxFileSize:      10 << 20,
		SupportedFormats: []string{".pdf"},
	}
	storage := services.NewFileStorage(cfg)
	if err := storage.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	queueClient := asynq.NewClient(asynq.RedisClientOpt{Addr: "127.0.0.1:1"})
	defer queueClient.Close()

	r := gin.New()
	r.POST("/upload", HandleContractUpload(cfg, store, storage, queueClient))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "notes.txt", []byte("plain text")))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if n := countStoredFiles(t, cfg.UploadDir); n != 0 {
		t.Errorf("rejected file was stored anyway, found %d files", n)
	}
}

func TestContractDetailRejectsBadID(t *testing.T) {
	store := newTestStore(t)
	cfg := &config.Config{}

	r := gin.New()
	r.GET("/contracts/:id", HandleContractDetail(cfg, store))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/contracts/abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric id, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/contracts/9999", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing contract, got %d", w.Code)
	}
}
