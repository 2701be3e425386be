package services

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"contract-archive-platform/internal/ai"
	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/logger"
	"contract-archive-platform/utils"
)

// OCRService turns a stored contract PDF into merged HTML plus derived plain
// text. Pages are recognized concurrently by the vision model, each page
// result is sanitized, then the merger stitches pages back together.
type OCRService struct {
	vision    ai.VisionOCR
	renderer  *PDFRenderer
	cleaner   *OCRCleaner
	uploadDir string
	workers   int
}

func NewOCRService(vision ai.VisionOCR, cfg *config.Config) *OCRService {
	workers := cfg.OCRPageWorkers
	if workers <= 0 {
		workers = 5
	}
	return &OCRService{
		vision:    vision,
		renderer:  NewPDFRenderer(cfg.UploadDir),
		cleaner:   NewOCRCleaner(cfg.OCRThoughtPrefixes),
		uploadDir: cfg.UploadDir,
		workers:   workers,
	}
}

// ProcessDocument runs OCR over the stored file at relPath and writes
// `processed/{stem}_content.html` and `.txt` under the upload root. It
// returns the relative paths of both artifacts. Individual page failures are
// tolerated; the document fails only when no page yields content.
func (s *OCRService) ProcessDocument(ctx context.Context, relPath string) (string, string, error) {
	fullPath := filepath.Join(s.uploadDir, filepath.FromSlash(relPath))
	if _, err := os.Stat(fullPath); err != nil {
		return "", "", utils.Wrap(utils.KindNotFound, fmt.Sprintf("文件不存在: %s", relPath), err)
	}

	imagePaths, total, err := s.renderer.RenderPages(fullPath)
	if err != nil {
		return "", "", err
	}
	defer s.renderer.Cleanup(imagePaths)

	logger.Info("ocr started", "file", filepath.Base(relPath), "pages", total, "workers", s.workers)

	results := make([]PageResult, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, imagePath := range imagePaths {
		i, imagePath := i, imagePath
		g.Go(func() error {
			pageNum := i + 1
			data, err := os.ReadFile(imagePath)
			if err != nil {
				logger.Warn("page image unreadable", "page", pageNum, "error", err)
				results[i] = PageResult{PageNum: pageNum}
				return nil
			}

			html, err := s.vision.RecognizePage(gctx, data, pageNum, total)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err != nil {
				logger.Warn("page ocr failed", "page", pageNum, "error", err)
				results[i] = PageResult{PageNum: pageNum}
				return nil
			}

			results[i] = PageResult{PageNum: pageNum, HTML: s.cleaner.Clean(html), Success: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", "", utils.Wrap(utils.KindTimeout, "OCR处理被中断", err)
	}

	ok := 0
	for _, r := range results {
		if r.Success && r.HTML != "" {
			ok++
		}
	}
	logger.Info("ocr pages recognized", "file", filepath.Base(relPath), "ok", ok, "total", total)

	merged := MergePages(results)
	if merged == "" {
		return "", "", utils.E(utils.KindUpstream, "OCR识别失败，未获取到内容")
	}

	processedDir := filepath.Join(s.uploadDir, "processed")
	if err := os.MkdirAll(processedDir, 0o755); err != nil {
		return "", "", utils.Wrap(utils.KindIO, "创建输出目录失败", err)
	}

	stem := strings.TrimSuffix(filepath.Base(relPath), filepath.Ext(relPath))
	htmlRel := path.Join("processed", stem+"_content.html")
	textRel := path.Join("processed", stem+"_content.txt")

	if err := os.WriteFile(filepath.Join(s.uploadDir, filepath.FromSlash(htmlRel)), []byte(WrapHTMLDocument(merged)), 0o644); err != nil {
		return "", "", utils.Wrap(utils.KindIO, "写入HTML内容文件失败", err)
	}
	if err := os.WriteFile(filepath.Join(s.uploadDir, filepath.FromSlash(textRel)), []byte(HTMLToText(merged)), 0o644); err != nil {
		return "", "", utils.Wrap(utils.KindIO, "写入文本内容文件失败", err)
	}

	logger.Info("ocr completed", "file", filepath.Base(relPath), "html", htmlRel, "text", textRel)
	return htmlRel, textRel, nil
}

// Available reports whether the vision model can be called at all.
func (s *OCRService) Available() bool {
	type configured interface{ Configured() bool }
	if c, ok := s.vision.(configured); ok {
		return c.Configured()
	}
	return s.vision != nil
}
