// connection/multipart.go
package connection

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Upload sends a local file to the Classic API's fixed upload endpoint as a
// multipart/form-data POST. It returns true on success and false on any
// failure rather than an error: upload failures are a common, expected
// outcome that callers poll and retry around.
func (c *Connection) Upload(resource, localFile string) bool {
	tok, err := c.ensureConnected()
	if err != nil {
		c.logger().Warn("upload attempted while disconnected", zap.String("resource", resource))
		return false
	}
	if err := c.refreshTokenIfNeeded(tok); err != nil {
		return false
	}

	file, err := os.Open(localFile)
	if err != nil {
		c.logger().Warn("upload source unreadable", zap.String("file", localFile), zap.Error(err))
		return false
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("name", filepath.Base(localFile))
	if err != nil {
		return false
	}
	if _, err := io.Copy(part, file); err != nil {
		c.logger().Warn("failed reading upload source", zap.String("file", localFile), zap.Error(err))
		return false
	}
	if err := writer.Close(); err != nil {
		return false
	}

	c.mu.Lock()
	endpoint := c.classicBase + "/" + UploadResourceBase + "/" + strings.TrimPrefix(resource, "/")
	client := c.classicClient
	c.mu.Unlock()
	if client == nil {
		return false
	}

	requestID := uuid.NewString()
	c.logger().Debug("multipart upload",
		zap.String("request_id", requestID),
		zap.String("endpoint", endpoint),
		zap.String("file", localFile),
	)

	req, err := http.NewRequest(http.MethodPost, endpoint, &buf)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+tok.TokenString())
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		c.logger().Warn("upload request failed", zap.String("request_id", requestID), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	c.noteResponse(resp, requestID)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger().Warn("upload rejected",
			zap.String("request_id", requestID),
			zap.Int("status_code", resp.StatusCode),
		)
		return false
	}
	return true
}
