package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lingochat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uploadRequest(t *testing.T, userID, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chat/uploads", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	return req
}

func TestUploadAttachment(t *testing.T) {
	s, _ := newTestServer(t)

	resp, err := s.App().Test(uploadRequest(t, "alice", "notes.txt", []byte("packing list")), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Attachment models.Attachment `json:"attachment"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	att := body.Attachment
	assert.True(t, strings.HasPrefix(att.URL, "/uploads/chat/"))
	assert.Equal(t, "notes.txt", att.Name)
	assert.Equal(t, int64(len("packing list")), att.Size)
	assert.Empty(t, att.ThumbnailURL)

	// the stored file is served back from the static prefix
	served, err := s.App().Test(httptest.NewRequest(http.MethodGet, att.URL, nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, served.StatusCode)
	content, err := io.ReadAll(served.Body)
	require.NoError(t, err)
	assert.Equal(t, "packing list", string(content))
}

func TestUploadAttachmentRejects(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("missing file", func(t *testing.T) {
		resp, err := s.App().Test(uploadRequest(t, "alice", "", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("too large", func(t *testing.T) {
		big := bytes.Repeat([]byte("a"), int(s.uploads.MaxBytes())+1)
		resp, err := s.App().Test(uploadRequest(t, "alice", "big.txt", big), -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
