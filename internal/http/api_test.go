package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geonotes/internal/auth"
	"geonotes/internal/repository/sqlite"
	"geonotes/internal/service"
	"geonotes/internal/storage"
)

type testApp struct {
	router     *gin.Engine
	uploadsDir string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	userRepo := sqlite.NewUserRepository(db)
	commentRepo := sqlite.NewCommentRepository(db)
	require.NoError(t, userRepo.Init(t.Context()))
	require.NoError(t, commentRepo.Init(t.Context()))

	uploadsDir := t.TempDir()
	blobs, err := storage.NewLocalStore(uploadsDir, "/uploads")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	users := service.NewUserService(userRepo)
	comments := service.NewCommentService(commentRepo, blobs, logger)
	tokens := auth.NewTokenManager("test-secret", time.Hour)

	router := gin.New()
	handler := NewHandler(comments, users, blobs, tokens, logger)
	handler.RegisterRoutes(router)

	return &testApp{router: router, uploadsDir: uploadsDir}
}

func (app *testApp) do(method, path string, body io.Reader, contentType, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	return rec
}

func (app *testApp) doJSON(method, path string, payload any, token string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	return app.do(method, path, bytes.NewReader(body), "application/json", token)
}

func (app *testApp) signup(t *testing.T, username, password string) string {
	t.Helper()
	rec := app.doJSON(http.MethodPost, "/auth/register", gin.H{"username": username, "password": password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = app.doJSON(http.MethodPost, "/auth/login", gin.H{"username": username, "password": password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Token    string `json:"token"`
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	require.Equal(t, username, resp.Username)
	return resp.Token
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for key, value := range fields {
		require.NoError(t, w.WriteField(key, value))
	}
	for name, content := range files {
		fw, err := w.CreateFormFile("images", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func (app *testApp) storedFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(app.uploadsDir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	return names
}

func TestAuthEndpoints(t *testing.T) {
	app := newTestApp(t)

	t.Run("register and login", func(t *testing.T) {
		app.signup(t, "alice", "pw1")
	})

	t.Run("duplicate username conflicts", func(t *testing.T) {
		rec := app.doJSON(http.MethodPost, "/auth/register", gin.H{"username": "alice", "password": "other"}, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "username taken")
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := app.doJSON(http.MethodPost, "/auth/login", gin.H{"username": "alice", "password": "nope"}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := app.doJSON(http.MethodPost, "/auth/register", gin.H{"username": "bob"}, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCommentLifecycle(t *testing.T) {
	app := newTestApp(t)
	aliceToken := app.signup(t, "alice", "pw1")
	bobToken := app.signup(t, "bob", "pw2")

	// create with one file
	body, contentType := multipartBody(t,
		map[string]string{"text": "park bench", "coords": "[10,20]"},
		map[string]string{"a.jpg": "jpeg-bytes"},
	)
	rec := app.do(http.MethodPost, "/comments", body, contentType, aliceToken)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created CommentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "park bench", created.Text)
	assert.Equal(t, "alice", created.Username)
	assert.Equal(t, [2]float64{10, 20}, created.Coords)
	require.Len(t, created.Attachments, 1)
	assert.Regexp(t, `^/uploads/\d+-[0-9a-f]{8}-a\.jpg$`, created.Attachments[0])
	require.Len(t, app.storedFiles(t), 1)

	// create without files via plain JSON
	rec = app.doJSON(http.MethodPost, "/comments", gin.H{"text": "hello", "coords": []float64{47.23, 39.70}}, aliceToken)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// list newest first
	rec = app.do(http.MethodGet, "/comments", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []CommentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, "hello", listed[0].Text)
	assert.Equal(t, [2]float64{47.23, 39.70}, listed[0].Coords)
	assert.Empty(t, listed[0].Attachments)
	assert.Equal(t, "park bench", listed[1].Text)

	// bob may not delete alice's comment
	rec = app.do(http.MethodDelete, fmt.Sprintf("/comments/%d", created.ID), nil, "", bobToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.Len(t, app.storedFiles(t), 1)

	// alice deletes it, file goes with it
	rec = app.do(http.MethodDelete, fmt.Sprintf("/comments/%d", created.ID), nil, "", aliceToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, app.storedFiles(t))

	rec = app.do(http.MethodGet, "/comments", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	listed = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "hello", listed[0].Text)

	// gone now
	rec = app.do(http.MethodDelete, fmt.Sprintf("/comments/%d", created.ID), nil, "", aliceToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCommentValidation(t *testing.T) {
	app := newTestApp(t)
	token := app.signup(t, "alice", "pw1")

	t.Run("missing text discards uploads", func(t *testing.T) {
		body, contentType := multipartBody(t,
			map[string]string{"coords": "[10,20]"},
			map[string]string{"a.jpg": "jpeg-bytes", "b.jpg": "more-bytes"},
		)
		rec := app.do(http.MethodPost, "/comments", body, contentType, token)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, app.storedFiles(t))
	})

	t.Run("malformed coords discards uploads", func(t *testing.T) {
		body, contentType := multipartBody(t,
			map[string]string{"text": "hello", "coords": "not json"},
			map[string]string{"a.jpg": "jpeg-bytes"},
		)
		rec := app.do(http.MethodPost, "/comments", body, contentType, token)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, app.storedFiles(t))
	})

	t.Run("missing token", func(t *testing.T) {
		rec := app.doJSON(http.MethodPost, "/comments", gin.H{"text": "hello", "coords": []float64{1, 2}}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		rec := app.doJSON(http.MethodPost, "/comments", gin.H{"text": "hello", "coords": []float64{1, 2}}, "garbage")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestListIsPublic(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodGet, "/comments", nil, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", rec.Body.String())
}
