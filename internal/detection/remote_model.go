package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const defaultModelType = "YOLO"

// classNames accepts both forms of the names field found in model metadata:
// a list indexed by class id, or an explicit id -> name mapping.
type classNames map[int]string

func (c *classNames) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		m := make(classNames, len(list))
		for i, name := range list {
			m[i] = name
		}
		*c = m
	case yaml.MappingNode:
		var m map[int]string
		if err := node.Decode(&m); err != nil {
			return err
		}
		*c = m
	default:
		return fmt.Errorf("names must be a list or a mapping, got %v", node.Tag)
	}
	return nil
}

type modelMetadata struct {
	Type  string     `yaml:"type"`
	Names classNames `yaml:"names"`
}

// remoteModel runs inference through an HTTP sidecar that has the model
// artifact loaded. The image is sent as multipart form field "file".
type remoteModel struct {
	path         string
	inferenceURL string
	kind         string
	client       *http.Client
}

type labeledRemoteModel struct {
	*remoteModel
	names map[int]string
}

func (m *labeledRemoteModel) Names() map[int]string {
	return m.names
}

// NewRemoteLoader returns a Loader that validates the artifact on fs, reads
// its metadata sidecar, and serves predictions from inferenceURL.
func NewRemoteLoader(fs afero.Fs, inferenceURL string, client *http.Client) Loader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return func(path string) (Model, error) {
		info, err := fs.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("model file not found: %s", path)
			}
			return nil, fmt.Errorf("failed to stat model file %s: %w", path, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("model path %s is a directory", path)
		}
		if inferenceURL == "" {
			return nil, errors.New("inference URL is not configured")
		}

		meta, err := readMetadata(fs, path)
		if err != nil {
			return nil, err
		}
		kind := meta.Type
		if kind == "" {
			kind = defaultModelType
		}

		model := &remoteModel{
			path:         path,
			inferenceURL: inferenceURL,
			kind:         kind,
			client:       client,
		}
		if len(meta.Names) > 0 {
			return &labeledRemoteModel{remoteModel: model, names: meta.Names}, nil
		}
		return model, nil
	}
}

// readMetadata looks for <stem>.yaml, then data.yaml, next to the artifact.
// A missing sidecar is not an error.
func readMetadata(fs afero.Fs, modelPath string) (modelMetadata, error) {
	var meta modelMetadata
	dir := filepath.Dir(modelPath)
	stem := strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath))

	for _, candidate := range []string{
		filepath.Join(dir, stem+".yaml"),
		filepath.Join(dir, "data.yaml"),
	} {
		data, err := afero.ReadFile(fs, candidate)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return meta, fmt.Errorf("failed to read model metadata %s: %w", candidate, err)
		}
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return meta, fmt.Errorf("failed to parse model metadata %s: %w", candidate, err)
		}
		return meta, nil
	}
	return meta, nil
}

func (m *remoteModel) Type() string {
	return m.kind
}

// Predict posts the image to the inference sidecar.
func (m *remoteModel) Predict(ctx context.Context, image []byte, confidence float64) ([]Box, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(image)); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.WriteField("conf", strconv.FormatFloat(confidence, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("write conf field: %w", err)
	}
	if err := writer.WriteField("model", m.path); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.inferenceURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Detections []Box `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Detections, nil
}
