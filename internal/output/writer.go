package output

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"barragecap/internal/capture"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is the on-disk shape of one page capture.
type Record struct {
	SourcePage string          `json:"source_page"`
	CapturedAt string          `json:"captured_at"`
	Count      int             `json:"count"`
	Requests   []RequestRecord `json:"requests"`
}

// RequestRecord is one intercepted barrage exchange. Body embeds the raw
// response when it is valid JSON and falls back to a string otherwise.
type RequestRecord struct {
	APIURL  string              `json:"api_url"`
	Status  int64               `json:"status"`
	Headers map[string]string   `json:"headers"`
	Body    jsoniter.RawMessage `json:"body"`
}

// Writer persists capture results as pretty-printed JSON files in a single
// output directory.
type Writer struct {
	logger *zap.Logger
	dir    string
}

// NewWriter creates the output directory if needed.
func NewWriter(logger *zap.Logger, dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create output directory %q: %w", dir, err)
	}
	return &Writer{logger: logger.Named("writer"), dir: dir}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Write serializes one result under the given file name and returns the path.
func (w *Writer) Write(name string, result capture.Result) (string, error) {
	record := BuildRecord(result)
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("cannot serialize record for %q: %w", result.SourcePage, err)
	}
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("cannot write %q: %w", path, err)
	}
	return path, nil
}

// BuildRecord converts a capture result into its serialized form. The count
// always equals the number of requests.
func BuildRecord(result capture.Result) Record {
	requests := make([]RequestRecord, 0, len(result.Exchanges))
	for _, ex := range result.Exchanges {
		requests = append(requests, RequestRecord{
			APIURL:  ex.APIURL,
			Status:  ex.Status,
			Headers: ex.RequestHeaders,
			Body:    encodeBody(ex.Body),
		})
	}
	return Record{
		SourcePage: result.SourcePage,
		CapturedAt: result.CapturedAt.Format(time.RFC3339),
		Count:      len(requests),
		Requests:   requests,
	}
}

func encodeBody(body []byte) jsoniter.RawMessage {
	if len(body) > 0 && json.Valid(body) {
		return jsoniter.RawMessage(body)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return jsoniter.RawMessage(`""`)
	}
	return jsoniter.RawMessage(quoted)
}
