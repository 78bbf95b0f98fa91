package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ManifestName is the run report written next to the exports. It does not
// match the export file pattern, so resumption never mistakes it for one.
const ManifestName = "export-report.csv"

var manifestHeaders = []string{
	"year", "month", "file", "status", "bytes", "uploaded", "remote_id", "error_type", "error", "upload_error", "duration_ms",
}

// WriteManifest writes one row per outcome of report to path, replacing any
// previous manifest. A UTF-8 BOM is written first so spreadsheet tools
// detect the encoding.
func WriteManifest(path string, report *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer file.Close()

	if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(manifestHeaders); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	for i, o := range report.Outcomes {
		if err := writer.Write(manifestRecord(o)); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Sync()
}

func manifestRecord(o Outcome) []string {
	record := []string{
		strconv.Itoa(o.Item.Year),
		o.Item.MonthLabel(),
		o.Item.FileName(),
		o.Status(),
		"", "false", "", "", "", "",
		strconv.FormatInt(o.Duration.Milliseconds(), 10),
	}
	if o.Result != nil {
		record[4] = strconv.FormatInt(o.Result.Bytes, 10)
		record[5] = strconv.FormatBool(o.Result.Uploaded)
		record[6] = o.Result.RemoteID
	}
	if o.Err != nil {
		record[7] = string(o.Err.Type)
		record[8] = o.Err.Error()
	}
	if o.UploadErr != nil {
		record[9] = o.UploadErr.Error()
	}
	return record
}
