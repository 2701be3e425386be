package services

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"

	"contract-archive-platform/internal/logger"
	"contract-archive-platform/utils"
)

// renderDPI doubles the PDF's native 72 DPI so small print and seals stay
// legible for the vision model.
const renderDPI = 144

// PDFRenderer rasterizes contract PDFs into per-page PNG images used as
// OCR input.
type PDFRenderer struct {
	tempRoot string
}

func NewPDFRenderer(uploadDir string) *PDFRenderer {
	return &PDFRenderer{tempRoot: filepath.Join(uploadDir, "temp")}
}

// RenderPages renders every page of the PDF at pdfPath into PNG files under
// a fresh temp directory and returns the image paths in page order together
// with the page count. The caller owns the directory and removes it via
// Cleanup once OCR is done.
func (r *PDFRenderer) RenderPages(pdfPath string) ([]string, int, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, 0, utils.Wrap(utils.KindIO, fmt.Sprintf("打开PDF文件失败: %s", filepath.Base(pdfPath)), err)
	}
	defer doc.Close()

	total := doc.NumPage()
	if total == 0 {
		return nil, 0, utils.E(utils.KindValidation, "PDF文件没有可渲染的页面")
	}

	stem := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	dir := filepath.Join(r.tempRoot, fmt.Sprintf("%s_%d", stem, time.Now().UnixNano()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, 0, utils.Wrap(utils.KindIO, "创建临时图片目录失败", err)
	}

	paths := make([]string, 0, total)
	for n := 0; n < total; n++ {
		img, err := doc.ImageDPI(n, renderDPI)
		if err != nil {
			os.RemoveAll(dir)
			return nil, 0, utils.Wrap(utils.KindIO, fmt.Sprintf("渲染第 %d 页失败", n+1), err)
		}

		imgPath := filepath.Join(dir, fmt.Sprintf("page_%d.png", n+1))
		f, err := os.Create(imgPath)
		if err != nil {
			os.RemoveAll(dir)
			return nil, 0, utils.Wrap(utils.KindIO, fmt.Sprintf("写入第 %d 页图片失败", n+1), err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			os.RemoveAll(dir)
			return nil, 0, utils.Wrap(utils.KindIO, fmt.Sprintf("编码第 %d 页图片失败", n+1), err)
		}
		if err := f.Close(); err != nil {
			os.RemoveAll(dir)
			return nil, 0, utils.Wrap(utils.KindIO, fmt.Sprintf("写入第 %d 页图片失败", n+1), err)
		}
		paths = append(paths, imgPath)
	}

	logger.Info("pdf rendered", "pdf", filepath.Base(pdfPath), "pages", total, "dpi", renderDPI)
	return paths, total, nil
}

// Cleanup removes the temp image directory produced by RenderPages.
func (r *PDFRenderer) Cleanup(imagePaths []string) {
	if len(imagePaths) == 0 {
		return
	}
	dir := filepath.Dir(imagePaths[0])
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("temp image cleanup failed", "dir", dir, "error", err)
	}
}
