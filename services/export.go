package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"contract-archive-platform/internal/database"
	"contract-archive-platform/models"
	"contract-archive-platform/utils"
)

// ExportService renders the contract register as an xlsx workbook.
type ExportService struct {
	store *database.Store
}

func NewExportService(store *database.Store) *ExportService {
	return &ExportService{store: store}
}

// ExportResult carries the generated workbook and its record count.
type ExportResult struct {
	FileName    string
	Data        []byte
	RecordCount int
}

var registerHeaders = []string{
	"序号", "合同编号", "合同名称", "合同类型", "文件名", "文件格式",
	"文件大小(KB)", "页数", "上传时间", "OCR状态", "分块状态",
	"向量化状态", "ES同步状态", "总体状态",
}

// ExportRegister builds the full contract register workbook: one sheet with
// every contract, one with the aggregate statistics.
func (es *ExportService) ExportRegister(ctx context.Context) (*ExportResult, error) {
	contracts, err := es.store.AllContracts(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := es.store.Statistics(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "合同台账"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, utils.Wrap(utils.KindInternal, "生成导出文件失败", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for i, header := range registerHeaders {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	for rowIdx, c := range contracts {
		row := rowIdx + 2

		contractType := ""
		if c.ContractType != nil {
			contractType = *c.ContractType
		}
		pageCount := 0
		if c.PageCount != nil {
			pageCount = *c.PageCount
		}

		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), rowIdx+1)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), c.ContractNumber)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), c.ContractName)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), contractType)
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), c.FileName)
		f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), c.FileFormat)
		f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), fmt.Sprintf("%.1f", float64(c.FileSize)/1024))
		f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), pageCount)
		f.SetCellValue(sheetName, fmt.Sprintf("I%d", row), c.UploadTime.Format("2006-01-02 15:04:05"))
		f.SetCellValue(sheetName, fmt.Sprintf("J%d", row), statusLabel(c.OCRStatus))
		f.SetCellValue(sheetName, fmt.Sprintf("K%d", row), statusLabel(c.ContentStatus))
		f.SetCellValue(sheetName, fmt.Sprintf("L%d", row), statusLabel(c.VectorStatus))
		f.SetCellValue(sheetName, fmt.Sprintf("M%d", row), statusLabel(c.ElasticsearchSyncStatus))
		f.SetCellValue(sheetName, fmt.Sprintf("N%d", row), statusLabel(c.OverallStatus()))
	}

	for i := range registerHeaders {
		col := fmt.Sprintf("%c", 'A'+i)
		f.SetColWidth(sheetName, col, col, 16)
	}

	if err := es.writeSummarySheet(f, stats); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, utils.Wrap(utils.KindInternal, "生成导出文件失败", err)
	}

	return &ExportResult{
		FileName:    fmt.Sprintf("合同台账_%s.xlsx", time.Now().Format("20060102_150405")),
		Data:        buf.Bytes(),
		RecordCount: len(contracts),
	}, nil
}

func (es *ExportService) writeSummarySheet(f *excelize.File, stats *models.ContractStatistics) error {
	sheetName := "统计汇总"
	if _, err := f.NewSheet(sheetName); err != nil {
		return utils.Wrap(utils.KindInternal, "生成导出文件失败", err)
	}

	rows := [][]interface{}{
		{"统计项", "数值"},
		{"导出时间", time.Now().Format("2006-01-02 15:04:05")},
		{"合同总数", stats.TotalContracts},
		{"分块总数", stats.TotalChunks},
		{"文件总大小(MB)", fmt.Sprintf("%.2f", float64(stats.TotalFileSize)/1024/1024)},
	}
	rows = append(rows, statusRows("OCR", stats.ByOCRStatus)...)
	rows = append(rows, statusRows("向量化", stats.ByVectorStatus)...)
	rows = append(rows, statusRows("ES同步", stats.BySyncStatus)...)
	for contractType, count := range stats.ByType {
		rows = append(rows, []interface{}{fmt.Sprintf("类型：%s", contractType), count})
	}

	for i, row := range rows {
		for j, cell := range row {
			ref := fmt.Sprintf("%c%d", 'A'+j, i+1)
			f.SetCellValue(sheetName, ref, cell)
		}
	}
	f.SetColWidth(sheetName, "A", "A", 24)
	f.SetColWidth(sheetName, "B", "B", 20)
	return nil
}

func statusRows(prefix string, byStatus map[string]int64) [][]interface{} {
	order := []string{models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed}
	rows := make([][]interface{}, 0, len(order))
	for _, status := range order {
		count, ok := byStatus[status]
		if !ok {
			continue
		}
		rows = append(rows, []interface{}{fmt.Sprintf("%s：%s", prefix, statusLabel(status)), count})
	}
	return rows
}

func statusLabel(status string) string {
	switch status {
	case models.StatusPending:
		return "待处理"
	case models.StatusProcessing:
		return "处理中"
	case models.StatusCompleted:
		return "已完成"
	case models.StatusFailed:
		return "失败"
	default:
		return status
	}
}
