package asset

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/brojonat/launchbundle/service/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("img-"+n), 0o644))
	}
}

func TestFindImage(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		want    string
		wantErr error
	}{
		{name: "single png", files: []string{"logo.png", "notes.txt"}, want: "logo.png"},
		{name: "upper case extension", files: []string{"LOGO.JPEG"}, want: "LOGO.JPEG"},
		{name: "none", files: []string{"readme.md"}, wantErr: faults.ErrMissingAssetImage},
		{name: "empty dir", wantErr: faults.ErrMissingAssetImage},
		{name: "several", files: []string{"a.gif", "b.jpg"}, wantErr: faults.ErrMultipleAssetImages},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			touch(t, dir, tt.files...)

			got, err := FindImage(dir)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, faults.IsConfiguration(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.want), got)
		})
	}
}

func TestFindImage_MissingDir(t *testing.T) {
	_, err := FindImage(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "logo.png")

	var fields map[string]string
	var fileName, fileBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		raw, _ := io.ReadAll(f)
		fileName, fileBody = hdr.Filename, string(raw)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"metadataUri": "https://ipfs.io/ipfs/Qm123"})
	}))
	defer srv.Close()

	u := NewUploader(srv.URL, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	uri, err := u.Upload(context.Background(), Metadata{
		Name:      "Example",
		Symbol:    "EXM",
		Website:   "https://example.com",
		ImagePath: filepath.Join(dir, "logo.png"),
	})
	require.NoError(t, err)

	assert.Equal(t, "https://ipfs.io/ipfs/Qm123", uri)
	assert.Equal(t, "Example", fields["name"])
	assert.Equal(t, "EXM", fields["symbol"])
	assert.Equal(t, "https://example.com", fields["website"])
	assert.Equal(t, "true", fields["showName"])
	assert.Equal(t, "logo.png", fileName)
	assert.Equal(t, "img-logo.png", fileBody)
}

func TestUpload_ErrorStatus(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "logo.png")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many uploads", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	u := NewUploader(srv.URL, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := u.Upload(context.Background(), Metadata{ImagePath: filepath.Join(dir, "logo.png")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "too many uploads")
}
