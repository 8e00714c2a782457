package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
)

type file struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

func (c *Client) getFile(ctx context.Context, fileID string) (file, error) {
	var f file
	if strings.TrimSpace(fileID) == "" {
		return f, errors.New("telegram getFile: missing file_id")
	}
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &f); err != nil {
		return f, err
	}
	if strings.TrimSpace(f.FilePath) == "" {
		return f, errors.New("telegram getFile: missing file_path")
	}
	return f, nil
}

// Download streams the content of a.SourceID. The caller closes the reader.
func (c *Client) Download(ctx context.Context, a domain.Artifact) (io.ReadCloser, error) {
	f, err := c.getFile(ctx, a.SourceID)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, strings.TrimLeft(f.FilePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", redact(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &APIError{Method: "download", StatusCode: resp.StatusCode, Description: strings.TrimSpace(string(raw))}
	}
	return resp.Body, nil
}
