// Package export writes search result lists to CSV or JSON files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/internal/util"
	"github.com/ntfind/ntfind/search"
)

const csvTimeLayout = "2006-01-02 15:04:05"

// ToFile writes results in the format named by the file extension,
// .csv or .json.
func ToFile(path string, results []search.Result) error {
	var write func(io.Writer, []search.Result) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		write = WriteCSV
	case ".json":
		write = WriteJSON
	default:
		return fmt.Errorf("unsupported export format %q, use .csv or .json", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	if err := write(f, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteCSV emits one row per result under a fixed header. Unknown
// timestamps are left empty.
func WriteCSV(w io.Writer, results []search.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"Name", "Path", "Type", "Size (bytes)", "Size (formatted)",
		"Modified", "Created", "Accessed", "Score",
	}); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, r := range results {
		e := &r.Entry
		row := []string{
			e.Name,
			e.Path,
			entryType(e),
			strconv.FormatUint(e.Size, 10),
			FormatFileSize(e.Size),
			csvTime(e.Modified),
			csvTime(e.Created),
			csvTime(e.Accessed),
			strconv.Itoa(r.Score),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonResult struct {
	Name          string  `json:"name"`
	Path          string  `json:"path"`
	Type          string  `json:"type"`
	Size          uint64  `json:"size"`
	SizeFormatted string  `json:"size_formatted"`
	Modified      *string `json:"modified"`
	Created       *string `json:"created"`
	Accessed      *string `json:"accessed"`
	Score         int     `json:"score"`
	FileID        uint64  `json:"file_id"`
	ParentID      uint64  `json:"parent_id"`
}

type jsonDocument struct {
	Timestamp    string       `json:"timestamp"`
	TotalResults int          `json:"total_results"`
	Results      []jsonResult `json:"results"`
}

// WriteJSON emits a document with an export timestamp and the full result
// list. Unknown timestamps are null.
func WriteJSON(w io.Writer, results []search.Result) error {
	doc := jsonDocument{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		TotalResults: len(results),
		Results:      make([]jsonResult, 0, len(results)),
	}
	for _, r := range results {
		e := &r.Entry
		doc.Results = append(doc.Results, jsonResult{
			Name:          e.Name,
			Path:          e.Path,
			Type:          strings.ToLower(entryType(e)),
			Size:          e.Size,
			SizeFormatted: FormatFileSize(e.Size),
			Modified:      jsonTime(e.Modified),
			Created:       jsonTime(e.Created),
			Accessed:      jsonTime(e.Accessed),
			Score:         r.Score,
			FileID:        uint64(e.ID),
			ParentID:      uint64(e.ParentID),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding export json: %w", err)
	}
	return nil
}

// FormatFileSize renders a human-readable size, e.g. "1.5 MB".
func FormatFileSize(bytes uint64) string { return util.FormatFileSize(bytes) }

func entryType(e *ntfind.FileEntry) string {
	if e.IsDir {
		return "Directory"
	}
	return "File"
}

func csvTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(csvTimeLayout)
}

func jsonTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	return util.Pointer(t.UTC().Format(time.RFC3339))
}
