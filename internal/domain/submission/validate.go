package submission

import (
	"mime"
	"path/filepath"
	"strings"
)

// DefaultMaxFileSize is 100 MiB.
const DefaultMaxFileSize int64 = 100 << 20

const (
	MimeCSV     = "text/csv"
	MimeCSVApp  = "application/csv"
	MimeJSON    = "application/json"
	MimeXLSX    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeUnknown = "application/octet-stream"
)

var allowedMime = map[string]bool{
	MimeCSV:    true,
	MimeCSVApp: true,
	MimeJSON:   true,
	MimeXLSX:   true,
}

// Validate checks the file against the size limit and the accepted types.
func Validate(f FileInfo, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if strings.TrimSpace(f.Name) == "" {
		return validation("file name is required")
	}
	if f.Size <= 0 {
		return validation("file %s is empty", f.Name)
	}
	if f.Size > maxSize {
		return validation("file %s is %d bytes, limit is %d", f.Name, f.Size, maxSize)
	}
	if !allowedMime[baseMime(f.MimeType)] {
		return validation("unsupported file type %q (csv, json, xlsx only)", f.MimeType)
	}
	return nil
}

// DetectMime guesses the type from the file extension.
func DetectMime(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return MimeCSV
	case ".json":
		return MimeJSON
	case ".xlsx":
		return MimeXLSX
	}
	return MimeUnknown
}

func baseMime(s string) string {
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return mt
}

func validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Stage: StateIdle, Err: errorf(format, args...)}
}
