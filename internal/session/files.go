package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/constants"
	"github.com/nupi-ai/warp/internal/eventbus"
)

// DownloadResult describes a completed download.
type DownloadResult struct {
	FileID   string `json:"file_id"`
	SavePath string `json:"save_path"`
	Size     int64  `json:"size"`
}

func (s *Session) fileOperationsEnabled() error {
	if !s.cfg.GetBool("features.file_operations.enabled", true) {
		return featureDisabled("file_operations")
	}
	return nil
}

func (s *Session) fileEndpoint() (string, error) {
	endpoint, ok := s.cfg.Endpoint("file_endpoint")
	if !ok {
		return "", endpointMissing("file_endpoint")
	}
	return endpoint, nil
}

// UploadFile sends the file at path with its metadata as a multipart form.
// Existence and size are checked before any network activity.
func (s *Session) UploadFile(ctx context.Context, path string, metadata map[string]any) (map[string]any, error) {
	if err := s.fileOperationsEnabled(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	maxSize := s.cfg.GetInt("features.file_operations.max_file_size", constants.DefaultMaxFileSize)
	if info.Size() > maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, info.Size(), maxSize)
	}
	endpoint, err := s.fileEndpoint()
	if err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("session: upload: encode metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(form, filepath.Base(path), file, metaJSON))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return nil, &RequestError{Op: "upload", Err: err}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := s.doJSON("upload", req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("file uploaded", zap.String("path", path), zap.Int64("size", info.Size()))
	s.bus.Emit(eventbus.SourceSession, eventbus.FileUploadedEvent{Path: path, Response: resp})
	return resp, nil
}

func writeUploadForm(form *multipart.Writer, name string, file io.Reader, metadata []byte) error {
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := form.WriteField("metadata", string(metadata)); err != nil {
		return err
	}
	return form.Close()
}

// DownloadFile fetches {file_endpoint}/{fileID} into savePath. The body is
// streamed in fixed-size chunks into a temporary file that replaces savePath
// only once the transfer completes.
func (s *Session) DownloadFile(ctx context.Context, fileID, savePath string) (DownloadResult, error) {
	if err := s.fileOperationsEnabled(); err != nil {
		return DownloadResult{}, err
	}
	endpoint, err := s.fileEndpoint()
	if err != nil {
		return DownloadResult{}, err
	}
	if strings.TrimSpace(fileID) == "" {
		return DownloadResult{}, errors.New("session: download: file id is required")
	}

	downloadURL := strings.TrimRight(endpoint, "/") + "/" + url.PathEscape(fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, http.NoBody)
	if err != nil {
		return DownloadResult{}, &RequestError{Op: "download", Err: err}
	}

	resp, start, err := s.send("download", req)
	if err != nil {
		return DownloadResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		s.metrics.Record(resp.StatusCode, time.Since(start), int64(len(body)))
		return DownloadResult{}, &RequestError{Op: "download", StatusCode: resp.StatusCode, Err: apiError(resp, body)}
	}

	written, err := writeChunked(savePath, resp.Body)
	s.metrics.Record(resp.StatusCode, time.Since(start), written)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("session: download %s: %w", fileID, err)
	}

	result := DownloadResult{FileID: fileID, SavePath: savePath, Size: written}
	s.logger.Info("file downloaded", zap.String("file_id", fileID), zap.String("path", savePath), zap.Int64("size", written))
	s.bus.Emit(eventbus.SourceSession, eventbus.FileDownloadedEvent{FileID: fileID, SavePath: savePath, Size: written})
	return result, nil
}

func writeChunked(savePath string, body io.Reader) (int64, error) {
	dir := filepath.Dir(savePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(savePath)+".part.*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var written int64
	buf := make([]byte, constants.DownloadChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				tmp.Close()
				return written, fmt.Errorf("write: %w", err)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			tmp.Close()
			return written, fmt.Errorf("read: %w", readErr)
		}
	}
	if err := tmp.Close(); err != nil {
		return written, fmt.Errorf("close: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return written, fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpPath, savePath); err != nil {
		return written, fmt.Errorf("rename: %w", err)
	}
	return written, nil
}
