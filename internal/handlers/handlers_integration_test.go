package handlers_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kulit/internal/detection"
	"kulit/internal/handlers"
	"kulit/internal/models"
	"kulit/internal/repositories"
	"kulit/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubModel reports one melanoma on every image.
type stubModel struct {
	err error
}

func (m *stubModel) Predict(context.Context, []byte, float64) ([]detection.Box, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []detection.Box{{X1: 20, Y1: 30, X2: 50, Y2: 60, Confidence: 0.9, ClassID: 0}}, nil
}

func (m *stubModel) Type() string { return "stub" }

type testEnv struct {
	app         *fiber.App
	authService *services.AuthService
	fs          afero.Fs
}

// setupApp sets up a Fiber app backed by a temporary sqlite file and an
// in-memory filesystem. A nil model leaves the detection engine unavailable.
func setupApp(t *testing.T, model detection.Model) *testEnv {
	t.Helper()

	v := viper.New()
	v.SetDefault("JWT_SECRET", "test_jwt_secret")
	v.AutomaticEnv()
	jwtSecret := v.GetString("JWT_SECRET")

	db, err := repositories.OpenDatabase("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	fs := afero.NewMemMapFs()
	store := repositories.NewCredentialStore(db, fs)
	require.True(t, store.InitializeSchema())

	engine := detection.NewEngine(fs, func(string) (detection.Model, error) {
		if model == nil {
			return nil, fmt.Errorf("model file not found: best.pt")
		}
		return model, nil
	})
	engine.Initialize("best.pt")

	authService := services.NewAuthService(store, jwtSecret, time.Hour, nil)
	detectionService := services.NewDetectionService(store, engine, fs, services.DetectionConfig{
		HistoryDir:     "history_images",
		MaxUploadBytes: 1 << 20,
	}, nil)

	app := fiber.New()
	handlers.RegisterRoutes(app, authService, detectionService)
	return &testEnv{app: app, authService: authService, fs: fs}
}

// TestMain runs setup and teardown for all tests
func TestMain(m *testing.M) {
	// Suppress logging during tests for cleaner output
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.app.Test(req, -1) // -1 for no timeout
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (e *testEnv) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	jsonBody, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req)
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	resp, _ := e.postJSON(t, "/api/v1/auth/register", map[string]string{
		"full_name": "Test User",
		"username":  username,
		"password":  password,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := e.postJSON(t, "/api/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loginResp map[string]string
	require.NoError(t, json.Unmarshal(body, &loginResp))
	require.NotEmpty(t, loginResp["token"])
	return loginResp["token"]
}

func uploadRequest(t *testing.T, token, filename string, data []byte, confidence string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	if confidence != "" {
		require.NoError(t, writer.WriteField("confidence", confidence))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/detections", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func authed(method, path, token string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	data, err := detection.EncodePNG(img)
	require.NoError(t, err)
	return data
}

func TestAuthRegisterLoginAndReset(t *testing.T) {
	env := setupApp(t, &stubModel{})

	token := env.login(t, "testuser", "password123")
	claims, err := env.authService.ValidateToken(token)
	assert.NoError(t, err)
	assert.Equal(t, "testuser", claims["username"])

	// Duplicate registration
	resp, _ := env.postJSON(t, "/api/v1/auth/register", map[string]string{
		"full_name": "Someone Else",
		"username":  "testuser",
		"password":  "another1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Password too short
	resp, body := env.postJSON(t, "/api/v1/auth/register", map[string]string{
		"full_name": "Short",
		"username":  "short",
		"password":  "12345",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "min")

	// Wrong password
	resp, _ = env.postJSON(t, "/api/v1/auth/login", map[string]string{"username": "testuser", "password": "wrongpass"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Reset, then log in with the new password only
	resp, _ = env.postJSON(t, "/api/v1/auth/reset-password", map[string]string{"username": "testuser", "new_password": "newpass456"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.postJSON(t, "/api/v1/auth/login", map[string]string{"username": "testuser", "password": "password123"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = env.postJSON(t, "/api/v1/auth/login", map[string]string{"username": "testuser", "password": "newpass456"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.postJSON(t, "/api/v1/auth/reset-password", map[string]string{"username": "ghost", "new_password": "newpass456"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAccountEndpoint(t *testing.T) {
	env := setupApp(t, &stubModel{})
	token := env.login(t, "jane", "password123")

	resp, body := env.do(t, authed(http.MethodGet, "/api/v1/account", token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "password")

	var account struct {
		User            models.User `json:"user"`
		TotalDetections int         `json:"total_detections"`
	}
	require.NoError(t, json.Unmarshal(body, &account))
	assert.Equal(t, "jane", account.User.Username)
	assert.Equal(t, "Test User", account.User.FullName)
	assert.Equal(t, 0, account.TotalDetections)
}

func TestDetectionLifecycle(t *testing.T) {
	env := setupApp(t, &stubModel{})
	token := env.login(t, "jane", "password123")

	// Detect
	resp, body := env.do(t, uploadRequest(t, token, "mole.png", testPNG(t), "0.5"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created struct {
		ID             uint                `json:"id"`
		Saved          bool                `json:"saved"`
		Predictions    []models.Prediction `json:"predictions"`
		AnnotatedImage string              `json:"annotated_image"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.True(t, created.Saved)
	require.Len(t, created.Predictions, 1)
	assert.Equal(t, "Melanoma", created.Predictions[0].Label)
	assert.Equal(t, []int{20, 30, 50, 60}, created.Predictions[0].BoundingBox)
	png, err := base64.StdEncoding.DecodeString(created.AnnotatedImage)
	require.NoError(t, err)
	_, err = detection.DecodeRGBA(png)
	require.NoError(t, err)

	// History
	resp, body = env.do(t, authed(http.MethodGet, "/api/v1/detections", token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []services.HistoryEntry
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 1)
	assert.Equal(t, created.ID, history[0].ID)
	assert.Equal(t, "mole.png", history[0].Filename)
	assert.True(t, history[0].Valid)
	assert.True(t, history[0].ImageAvailable)

	// Image and thumbnail
	imagePath := fmt.Sprintf("/api/v1/detections/%d/image", created.ID)
	resp, body = env.do(t, authed(http.MethodGet, imagePath, token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, testPNG(t), body)
	resp, _ = env.do(t, authed(http.MethodGet, imagePath+"?thumb=1", token))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Another user can neither see nor delete it
	other := env.login(t, "john", "password123")
	resp, _ = env.do(t, authed(http.MethodGet, imagePath, other))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, authed(http.MethodDelete, fmt.Sprintf("/api/v1/detections/%d", created.ID), other))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Delete removes the row and the retained file
	resp, _ = env.do(t, authed(http.MethodDelete, fmt.Sprintf("/api/v1/detections/%d", created.ID), token))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, authed(http.MethodDelete, fmt.Sprintf("/api/v1/detections/%d", created.ID), token))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	infos, err := afero.ReadDir(env.fs, "history_images")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestDetectionErrors(t *testing.T) {
	env := setupApp(t, &stubModel{})
	token := env.login(t, "jane", "password123")

	resp, _ := env.do(t, uploadRequest(t, token, "notes.txt", []byte("hello"), ""))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, uploadRequest(t, token, "mole.png", testPNG(t), "abc"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, authed(http.MethodGet, "/api/v1/detections/abc/image", token))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	failing := setupApp(t, &stubModel{err: fmt.Errorf("sidecar crashed")})
	failingToken := failing.login(t, "jane", "password123")
	resp, _ = failing.do(t, uploadRequest(t, failingToken, "mole.png", testPNG(t), ""))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestModelUnavailable(t *testing.T) {
	env := setupApp(t, nil)
	token := env.login(t, "jane", "password123")

	resp, _ := env.do(t, uploadRequest(t, token, "mole.png", testPNG(t), ""))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 0, len(env.fsFiles(t)))

	resp, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/model", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info detection.ModelInfo
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, detection.UnavailableModelInfo, info)
}

func (e *testEnv) fsFiles(t *testing.T) []os.FileInfo {
	t.Helper()
	infos, err := afero.ReadDir(e.fs, "history_images")
	if err != nil {
		return nil
	}
	return infos
}

func TestModelInfoAndHealth(t *testing.T) {
	env := setupApp(t, &stubModel{})

	resp, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/model", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info detection.ModelInfo
	require.NoError(t, json.Unmarshal(body, &info))
	assert.True(t, info.Available)
	assert.Equal(t, "stub", info.Type)
	assert.Len(t, info.Classes, 6)

	resp, body = env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")
}

func TestProtectedEndpointsWithoutAuth(t *testing.T) {
	env := setupApp(t, &stubModel{})

	resp, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/detections", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, authed(http.MethodGet, "/api/v1/account", "not-a-token"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/account", nil)
	req.Header.Set("Authorization", "Token abc")
	resp, _ = env.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
