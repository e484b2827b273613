package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mymmrac/telego"
)

var errFileTooLarge = errors.New("file exceeds size limit")

// fileFetcher resolves a Telegram file id and downloads its bytes, refusing anything larger than
// MaxFileBytes.
func (a *Adapter) fileFetcher(api botAPI, fileID string) func(context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		file, err := api.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err != nil {
			return nil, fmt.Errorf("get telegram file: %w", err)
		}
		if file.FileSize > a.cfg.MaxFileBytes && a.cfg.MaxFileBytes > 0 {
			return nil, fmt.Errorf("%w: %d bytes", errFileTooLarge, file.FileSize)
		}
		if file.FilePath == "" {
			return nil, errors.New("telegram file has no download path")
		}

		return a.download(ctx, api.FileDownloadURL(file.FilePath))
	}
}

func (a *Adapter) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download telegram file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download telegram file: unexpected status %d", resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if a.cfg.MaxFileBytes > 0 {
		body = io.LimitReader(resp.Body, a.cfg.MaxFileBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read telegram file: %w", err)
	}
	if a.cfg.MaxFileBytes > 0 && int64(len(data)) > a.cfg.MaxFileBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", errFileTooLarge, a.cfg.MaxFileBytes)
	}

	return data, nil
}
