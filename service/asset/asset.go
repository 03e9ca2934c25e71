// Package asset locates the launch image and publishes token metadata.
package asset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/brojonat/launchbundle/service/faults"
)

// DefaultUploadURL is pump.fun's metadata endpoint.
const DefaultUploadURL = "https://pump.fun/api/ipfs"

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// FindImage returns the single image file in dir. Zero or several images are
// configuration errors.
func FindImage(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read asset directory: %w", err)
	}

	var images []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			images = append(images, e.Name())
		}
	}
	sort.Strings(images)

	switch len(images) {
	case 0:
		return "", fmt.Errorf("%w: %s", faults.ErrMissingAssetImage, dir)
	case 1:
		return filepath.Join(dir, images[0]), nil
	default:
		return "", fmt.Errorf("%w: %s", faults.ErrMultipleAssetImages, strings.Join(images, ", "))
	}
}

// Metadata describes the token shown by explorers and the launchpad.
type Metadata struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Twitter     string `json:"twitter,omitempty"`
	Telegram    string `json:"telegram,omitempty"`
	Website     string `json:"website,omitempty"`
	ImagePath   string `json:"-"`
}

type uploadResponse struct {
	MetadataURI string `json:"metadataUri"`
}

// Uploader posts metadata and image as a multipart form.
type Uploader struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewUploader creates an Uploader. If httpClient is nil, a default client
// with a 30 second timeout is used.
func NewUploader(url string, httpClient *http.Client, logger *slog.Logger) *Uploader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if url == "" {
		url = DefaultUploadURL
	}
	return &Uploader{url: url, httpClient: httpClient, logger: logger}
}

// Upload sends md and returns the metadata URI.
func (u *Uploader) Upload(ctx context.Context, md Metadata) (string, error) {
	body, contentType, err := encodeForm(md)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("upload metadata: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.MetadataURI == "" {
		return "", fmt.Errorf("upload metadata: empty metadata uri")
	}

	u.logger.InfoContext(ctx, "metadata uploaded",
		"name", md.Name,
		"symbol", md.Symbol,
		"uri", out.MetadataURI,
	)
	return out.MetadataURI, nil
}

func encodeForm(md Metadata) (io.Reader, string, error) {
	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)

	f, err := os.Open(md.ImagePath)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	part, err := w.CreateFormFile("file", filepath.Base(md.ImagePath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}

	fields := [][2]string{
		{"name", md.Name},
		{"symbol", md.Symbol},
		{"description", md.Description},
		{"twitter", md.Twitter},
		{"telegram", md.Telegram},
		{"website", md.Website},
		{"showName", "true"},
	}
	for _, kv := range fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
