package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/dustin/go-humanize"
)

// Upload transmits a file attachment and returns the server-assigned path.
// The size ceiling is enforced client-side before any bytes go out.
func (c *Client) Upload(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	if int64(len(data)) > c.maxUpload {
		return "", fmt.Errorf("%w: %s exceeds %s", ErrTooLarge,
			humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(c.maxUpload)))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", mimeType)
	fw, err := mw.CreatePart(hdr)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"/api/files/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", statusError(resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Path == "" {
		return "", fmt.Errorf("upload: empty path in response")
	}
	return out.Path, nil
}

// MarkdownAttachment builds the markdown reference embedded into message
// content for an uploaded file.
func MarkdownAttachment(name, path string) string {
	return fmt.Sprintf("[%s](%s)", name, path)
}
