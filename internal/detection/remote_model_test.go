package detection_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"kulit/internal/detection"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteLoader_RejectsMissingArtifact(t *testing.T) {
	fs := afero.NewMemMapFs()
	load := detection.NewRemoteLoader(fs, "http://localhost:5000/predict", nil)

	_, err := load("models/best.pt")
	assert.ErrorContains(t, err, "model file not found")

	require.NoError(t, fs.MkdirAll("models/dir.pt", 0o755))
	_, err = load("models/dir.pt")
	assert.ErrorContains(t, err, "is a directory")
}

func TestRemoteLoader_RequiresInferenceURL(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "best.pt", []byte("weights"), 0o644))

	_, err := detection.NewRemoteLoader(fs, "", nil)("best.pt")
	assert.ErrorContains(t, err, "inference URL")
}

func TestRemoteLoader_Metadata(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string]string
		wantType  string
		wantNames map[int]string
	}{
		{
			name:     "no sidecar",
			files:    map[string]string{},
			wantType: "YOLO",
		},
		{
			name: "stem sidecar with mapping",
			files: map[string]string{
				"models/best.yaml": "type: YOLOv8\nnames:\n  0: mel\n  3: bkl\n",
			},
			wantType:  "YOLOv8",
			wantNames: map[int]string{0: "mel", 3: "bkl"},
		},
		{
			name: "data.yaml with list",
			files: map[string]string{
				"models/data.yaml": "names: [mel, nv, bcc]\n",
			},
			wantType:  "YOLO",
			wantNames: map[int]string{0: "mel", 1: "nv", 2: "bcc"},
		},
		{
			name: "stem sidecar wins over data.yaml",
			files: map[string]string{
				"models/best.yaml": "names: [first]\n",
				"models/data.yaml": "names: [second]\n",
			},
			wantType:  "YOLO",
			wantNames: map[int]string{0: "first"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "models/best.pt", []byte("weights"), 0o644))
			for path, content := range tt.files {
				require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
			}

			model, err := detection.NewRemoteLoader(fs, "http://localhost:5000/predict", nil)("models/best.pt")
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, model.Type())

			labeled, ok := model.(detection.LabeledModel)
			if tt.wantNames == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantNames, labeled.Names())
		})
	}
}

func TestRemoteLoader_InvalidMetadata(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "best.pt", []byte("weights"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "best.yaml", []byte("names: mel\n"), 0o644))

	_, err := detection.NewRemoteLoader(fs, "http://localhost:5000/predict", nil)("best.pt")
	assert.ErrorContains(t, err, "failed to parse model metadata")
}

func TestRemoteModel_Predict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "0.4", r.FormValue("conf"))
		assert.Equal(t, "best.pt", r.FormValue("model"))

		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, []byte("image-bytes"), data)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"x1": 1.5, "y1": 2, "x2": 30, "y2": 40, "confidence": 0.8, "class_id": 2},
			},
		})
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "best.pt", []byte("weights"), 0o644))
	model, err := detection.NewRemoteLoader(fs, server.URL, server.Client())("best.pt")
	require.NoError(t, err)

	boxes, err := model.Predict(context.Background(), []byte("image-bytes"), 0.4)
	require.NoError(t, err)
	assert.Equal(t, []detection.Box{{X1: 1.5, Y1: 2, X2: 30, Y2: 40, Confidence: 0.8, ClassID: 2}}, boxes)
}

func TestRemoteModel_PredictStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "best.pt", []byte("weights"), 0o644))
	model, err := detection.NewRemoteLoader(fs, server.URL, server.Client())("best.pt")
	require.NoError(t, err)

	_, err = model.Predict(context.Background(), []byte("x"), 0.25)
	assert.ErrorContains(t, err, "status: 500")
}
