package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	defaultPurpose = "user_data"
	copyChunkSize  = 4096
	maxReplyBytes  = 10 << 20
)

// Responses handles POST /api/responses. A successful upstream stream is
// copied to the caller as text/event-stream, flushing after every read.
func (h *Handler) Responses(w http.ResponseWriter, r *http.Request) {
	reqID := chiMiddleware.GetReqID(r.Context())
	slog.Info("Relay chat request", "request_id", reqID)

	key, ok := h.key(w)
	if !ok {
		slog.Error("Relay rejected: API key not set", "request_id", reqID, "route", "responses")
		return
	}

	body, ok := h.readJSONBody(w, r)
	if !ok {
		return
	}

	resp, err := h.do(r.Context(), http.MethodPost, "/responses", key, "application/json", bytes.NewReader(body), nil)
	if err != nil {
		slog.Error("Upstream responses request failed", "request_id", reqID, "error", err)
		Error(w, http.StatusInternalServerError, msgFailedResponses)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		relayJSON(w, resp, msgFailedResponses, reqID)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	n, err := copyFlush(w, flusher, resp.Body)
	if err != nil {
		slog.Warn("Relay stream ended early", "request_id", reqID, "bytes", n, "error", err)
		return
	}
	slog.Info("Relay stream complete", "request_id", reqID, "bytes", n)
}

// Files handles POST /api/files, re-encoding the uploaded file for the vendor.
func (h *Handler) Files(w http.ResponseWriter, r *http.Request) {
	reqID := chiMiddleware.GetReqID(r.Context())

	key, ok := h.key(w)
	if !ok {
		slog.Error("Relay rejected: API key not set", "request_id", reqID, "route", "files")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := r.ParseMultipartForm(h.maxBody); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		Error(w, http.StatusBadRequest, msgNoFile)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, msgNoFile)
		return
	}
	defer file.Close()

	purpose := r.FormValue("purpose")
	if purpose == "" {
		purpose = defaultPurpose
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", header.Filename)
	if err == nil {
		_, err = io.Copy(part, file)
	}
	if err == nil {
		err = mw.WriteField("purpose", purpose)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		slog.Error("Failed to encode upload", "request_id", reqID, "error", err)
		Error(w, http.StatusInternalServerError, msgFailedUpload)
		return
	}

	slog.Info("Forwarding file upload", "request_id", reqID, "file", header.Filename, "size", header.Size, "purpose", purpose)
	resp, err := h.do(r.Context(), http.MethodPost, "/files", key, mw.FormDataContentType(), &buf, nil)
	if err != nil {
		slog.Error("Upstream files request failed", "request_id", reqID, "error", err)
		Error(w, http.StatusInternalServerError, msgFailedUpload)
		return
	}
	defer resp.Body.Close()

	relayJSON(w, resp, msgFailedUpload, reqID)
}

// CreateVectorStore handles POST /api/vector_stores.
func (h *Handler) CreateVectorStore(w http.ResponseWriter, r *http.Request) {
	reqID := chiMiddleware.GetReqID(r.Context())

	key, ok := h.key(w)
	if !ok {
		slog.Error("Relay rejected: API key not set", "request_id", reqID, "route", "vector_stores")
		return
	}

	body, ok := h.readJSONBody(w, r)
	if !ok {
		return
	}

	resp, err := h.do(r.Context(), http.MethodPost, "/vector_stores", key, "application/json", bytes.NewReader(body), betaHeaders())
	if err != nil {
		slog.Error("Upstream vector store create failed", "request_id", reqID, "error", err)
		Error(w, http.StatusInternalServerError, msgFailedCreateVS)
		return
	}
	defer resp.Body.Close()

	relayJSON(w, resp, msgFailedCreateVS, reqID)
}

// DeleteVectorStore handles DELETE /api/vector_stores/{id}.
func (h *Handler) DeleteVectorStore(w http.ResponseWriter, r *http.Request) {
	reqID := chiMiddleware.GetReqID(r.Context())
	id := chi.URLParam(r, "id")

	key, ok := h.key(w)
	if !ok {
		slog.Error("Relay rejected: API key not set", "request_id", reqID, "route", "vector_stores")
		return
	}

	slog.Info("Deleting vector store", "request_id", reqID, "vector_store_id", id)
	resp, err := h.do(r.Context(), http.MethodDelete, "/vector_stores/"+url.PathEscape(id), key, "", nil, betaHeaders())
	if err != nil {
		slog.Error("Upstream vector store delete failed", "request_id", reqID, "vector_store_id", id, "error", err)
		Error(w, http.StatusInternalServerError, msgFailedDeleteVS)
		return
	}
	defer resp.Body.Close()

	relayJSON(w, resp, msgFailedDeleteVS, reqID)
}

func (h *Handler) readJSONBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return nil, false
		}
		Error(w, http.StatusBadRequest, msgInvalidBody)
		return nil, false
	}
	if !json.Valid(body) {
		Error(w, http.StatusBadRequest, msgInvalidBody)
		return nil, false
	}
	return body, true
}

func (h *Handler) do(ctx context.Context, method, path, key, contentType string, body io.Reader, extra http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.upstream+path, body)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send upstream request: %w", err)
	}
	return resp, nil
}

func betaHeaders() http.Header {
	h := http.Header{}
	h.Set(BetaHeader, BetaHeaderValue)
	return h
}

// relayJSON copies an upstream JSON reply with its status. A reply that is not
// JSON is reported as a relay failure.
func relayJSON(w http.ResponseWriter, resp *http.Response, failMsg, reqID string) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil || !json.Valid(body) {
		slog.Error("Upstream reply unreadable", "request_id", reqID, "status", resp.StatusCode, "error", err)
		Error(w, http.StatusInternalServerError, failMsg)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("Upstream returned an error", "request_id", reqID, "status", resp.StatusCode, "body", string(body))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		slog.Warn("failed to write relay reply", "request_id", reqID, "error", err)
	}
}

func copyFlush(w io.Writer, flusher http.Flusher, r io.Reader) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			flusher.Flush()
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
