// Package chat drives a conversation with the hosted model through the relay.
package chat

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
)

// DefaultInstructions is the fixed system instruction sent with every turn.
const DefaultInstructions = "You are a helpful assistant."

// PurposeUserData tags uploaded documents.
const PurposeUserData = "user_data"

// ResponseRequest is the body of a chat request.
type ResponseRequest struct {
	Model              string `json:"model"`
	Instructions       string `json:"instructions"`
	Stream             bool   `json:"stream"`
	Input              any    `json:"input"`
	PreviousResponseID string `json:"previous_response_id,omitempty"`
	Store              *bool  `json:"store,omitempty"`
	Tools              []Tool `json:"tools,omitempty"`
}

// InputItem is one entry of a structured input list.
type InputItem struct {
	Role    string         `json:"role"`
	Content []InputContent `json:"content"`
}

// InputContent is a content part of an input item.
type InputContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Tool enables a server-side tool for the turn.
type Tool struct {
	Type           string   `json:"type"`
	VectorStoreIDs []string `json:"vector_store_ids,omitempty"`
}

// UpstreamError is a non-success response relayed from the vendor API.
type UpstreamError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *UpstreamError) Error() string {
	return e.Message
}

// Relay is the client side of the proxy.
type Relay interface {
	// Respond starts a streaming chat request and returns the event-stream body.
	Respond(ctx context.Context, req ResponseRequest) (io.ReadCloser, error)
	// UploadFile uploads a document and returns its file ID.
	UploadFile(ctx context.Context, name string, data []byte, purpose string) (string, error)
	// CreateVectorStore builds a document index from uploaded files.
	CreateVectorStore(ctx context.Context, fileIDs []string) (string, error)
	// DeleteVectorStore removes a document index.
	DeleteVectorStore(ctx context.Context, id string) error
}

// Client talks to the proxy over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a relay client for the proxy at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		// No overall timeout: a stream is read until the upstream closes it.
		httpClient = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 0,
			IdleConnTimeout:       90 * time.Second,
		}}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Respond posts req to /api/responses.
func (c *Client) Respond(ctx context.Context, req ResponseRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, readUpstreamError(resp)
	}
	return resp.Body, nil
}

// UploadFile posts a multipart upload to /api/files.
func (c *Client) UploadFile(ctx context.Context, name string, data []byte, purpose string) (string, error) {
	if purpose == "" {
		purpose = PurposeUserData
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.WriteField("purpose", purpose); err != nil {
		return "", fmt.Errorf("write purpose: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/files", mw.FormDataContentType(), &buf, &out); err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("upload file: response carried no file id")
	}
	return out.ID, nil
}

// CreateVectorStore posts the file IDs to /api/vector_stores.
func (c *Client) CreateVectorStore(ctx context.Context, fileIDs []string) (string, error) {
	body, err := json.Marshal(map[string]any{"file_ids": fileIDs})
	if err != nil {
		return "", fmt.Errorf("marshal vector store request: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/vector_stores", "application/json", bytes.NewReader(body), &out); err != nil {
		return "", fmt.Errorf("create vector store: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("create vector store: response carried no id")
	}
	return out.ID, nil
}

// DeleteVectorStore deletes /api/vector_stores/{id}.
func (c *Client) DeleteVectorStore(ctx context.Context, id string) error {
	var out struct {
		Deleted bool `json:"deleted"`
	}
	path := "/api/vector_stores/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodDelete, path, "", nil, &out); err != nil {
		return fmt.Errorf("delete vector store %s: %w", id, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readUpstreamError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readUpstreamError extracts a readable message from an error body. The
// vendor shape {"error":{"message":...}} and the proxy shape {"error":"..."}
// are both understood.
func readUpstreamError(resp *http.Response) *UpstreamError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	ue := &UpstreamError{Status: resp.StatusCode, Body: body}

	var parsed struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		var flat string
		switch {
		case json.Unmarshal(parsed.Error, &nested) == nil && nested.Message != "":
			ue.Message = nested.Message
		case json.Unmarshal(parsed.Error, &flat) == nil && flat != "":
			ue.Message = flat
		}
	}
	if ue.Message == "" {
		ue.Message = fmt.Sprintf("request failed with status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return ue
}

var _ Relay = (*Client)(nil)
