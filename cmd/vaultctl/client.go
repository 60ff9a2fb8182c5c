package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/filevault-api/internal/dto"
	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

// apiClient calls the FileVault JSON API and unwraps the response envelope.
type apiClient struct {
	base   string
	token  string
	client *http.Client
}

func newAPIClient(base, token string, client *http.Client) *apiClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &apiClient{base: strings.TrimRight(base, "/"), token: token, client: client}
}

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error *appErrors.Error `json:"error"`
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if env.Error != nil {
		return env.Error
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *apiClient) initUpload(ctx context.Context, req dto.InitUploadRequest) (*dto.InitUploadResponse, error) {
	var res dto.InitUploadResponse
	if err := c.do(ctx, http.MethodPost, "/uploads", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) finalizeUpload(ctx context.Context, fileID string, parts []storage.CompletedPart) (*dto.FinalizeUploadResponse, error) {
	var body interface{}
	if len(parts) > 0 {
		body = dto.FinalizeUploadRequest{Parts: parts}
	}
	var res dto.FinalizeUploadResponse
	if err := c.do(ctx, http.MethodPost, "/uploads/"+fileID+"/finalize", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) abortUpload(ctx context.Context, fileID string) error {
	return c.do(ctx, http.MethodPost, "/uploads/"+fileID+"/abort", nil, nil)
}

func (c *apiClient) quota(ctx context.Context) (*models.QuotaSnapshot, error) {
	var res models.QuotaSnapshot
	if err := c.do(ctx, http.MethodGet, "/quota", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) listFiles(ctx context.Context, search string) ([]models.File, error) {
	path := "/files"
	if search != "" {
		path += "?search=" + search
	}
	var res []models.File
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *apiClient) devToken(ctx context.Context, email string) (*models.TokenResponse, error) {
	var res models.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/dev-token", map[string]string{"email": email}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
