// Package kb is the client for the conversational agent platform that hosts
// knowledge bases.
package kb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docintel/types"

	"go.uber.org/zap"
)

type KnowledgeBase struct {
	ID     string `json:"knowledge_base_id"`
	Name   string `json:"knowledge_base_name"`
	Status string `json:"status"`
}

// State maps the platform status onto the pipeline states. Anything that is
// not explicitly finished is still pending.
func (k KnowledgeBase) State() types.KnowledgeBaseStatus {
	switch strings.ToLower(k.Status) {
	case "ready", "complete", "completed":
		return types.KnowledgeBaseReady
	case "failed", "error":
		return types.KnowledgeBaseFailed
	default:
		return types.KnowledgeBasePending
	}
}

type Platform interface {
	CreateKnowledgeBase(ctx context.Context, name, filename string, file []byte) (string, error)
	GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error)
	AgentKnowledgeBases(ctx context.Context, agentID string) ([]string, error)
	UpdateAgentKnowledgeBases(ctx context.Context, agentID string, ids []string) error
}

type RetellClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func NewRetellClient(baseURL, apiKey string, logger *zap.Logger) *RetellClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetellClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

type llmConfig struct {
	KnowledgeBaseIDs []string `json:"knowledge_base_ids"`
}

func (c *RetellClient) CreateKnowledgeBase(ctx context.Context, name, filename string, file []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("knowledge_base_name", name); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("knowledge_base_files", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(file); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	var kb KnowledgeBase
	if err := c.do(ctx, http.MethodPost, "/create-knowledge-base", w.FormDataContentType(), &body, &kb); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code < http.StatusInternalServerError {
			return "", types.JobFailed(types.StageKnowledgeBase, "platform rejected knowledge base", se)
		}
		return "", err
	}
	if kb.ID == "" {
		return "", types.JobFailed(types.StageKnowledgeBase, "platform returned no knowledge base id", nil)
	}
	c.logger.Info("knowledge base created", zap.String("kb_id", kb.ID), zap.String("name", name))
	return kb.ID, nil
}

func (c *RetellClient) GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	if err := c.do(ctx, http.MethodGet, "/get-knowledge-base/"+url.PathEscape(id), "", nil, &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

func (c *RetellClient) AgentKnowledgeBases(ctx context.Context, agentID string) ([]string, error) {
	var cfg llmConfig
	if err := c.do(ctx, http.MethodGet, "/get-retell-llm/"+url.PathEscape(agentID), "", nil, &cfg); err != nil {
		return nil, err
	}
	return cfg.KnowledgeBaseIDs, nil
}

func (c *RetellClient) UpdateAgentKnowledgeBases(ctx context.Context, agentID string, ids []string) error {
	payload, err := json.Marshal(llmConfig{KnowledgeBaseIDs: ids})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPatch, "/update-retell-llm/"+url.PathEscape(agentID), "application/json", bytes.NewReader(payload), nil)
}

func (c *RetellClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return types.Unavailable(types.StageKnowledgeBase, method+" "+path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Unavailable(types.StageKnowledgeBase, "read "+path, err)
	}
	if resp.StatusCode >= 300 {
		return types.Unavailable(types.StageKnowledgeBase, method+" "+path,
			&statusError{code: resp.StatusCode, body: strings.TrimSpace(string(respBody))})
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return types.Unavailable(types.StageKnowledgeBase, "decode "+path, err)
	}
	return nil
}

// statusError is a non-2xx platform response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d, body: %s", e.code, e.body)
}
