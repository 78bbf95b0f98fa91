package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asrsexport/internal/calendar"
	apperrors "asrsexport/internal/errors"
	"asrsexport/internal/files"
)

func readManifest(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}), "BOM")

	records, err := csv.NewReader(bytes.NewReader(data[3:])).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriteManifest(t *testing.T) {
	jan := calendar.WorkItem{Year: 2001, Month: time.January}
	feb := calendar.WorkItem{Year: 2001, Month: time.February}
	mar := calendar.WorkItem{Year: 2001, Month: time.March}

	r := newReport(3)
	ok := Success(DownloadResult{Item: jan, Bytes: 42, Uploaded: true, RemoteID: "drive-1"})
	ok.Duration = 1500 * time.Millisecond
	r.add(ok)
	uploadFailed := Success(DownloadResult{Item: feb, Bytes: 7})
	uploadFailed.UploadErr = apperrors.NewUploadError("quota, exceeded", nil)
	r.add(uploadFailed)
	r.add(Failure(mar, apperrors.NewDownloadError("no file", nil)))

	path := filepath.Join(t.TempDir(), "out", ManifestName)
	require.NoError(t, WriteManifest(path, r))

	records := readManifest(t, path)
	require.Len(t, records, 4)
	assert.Equal(t, manifestHeaders, records[0])
	assert.Equal(t, []string{"2001", "January", "asrs-jan-2001.csv", "success", "42", "true", "drive-1", "", "", "", "1500"}, records[1])
	assert.Equal(t, "[UPLOAD] quota, exceeded", records[2][9])
	assert.Equal(t, "failure", records[3][3])
	assert.Equal(t, "DOWNLOAD", records[3][7])
	assert.Equal(t, "false", records[3][5])
}

func TestManifestNameIsNotAnExport(t *testing.T) {
	assert.False(t, files.IsExportName(ManifestName))
}
