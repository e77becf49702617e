// Package router exposes the model store over HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	mylog "github.com/mohammed-shakir/geo-udf/internal/logger"
	"github.com/mohammed-shakir/geo-udf/internal/mlstore"
	"github.com/mohammed-shakir/geo-udf/internal/udf/mlmodel"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

const maxBody = 1 << 20

// ModelStore is the slice of *mlstore.Store the handlers need.
type ModelStore interface {
	Store(ctx context.Context, source string) (string, error)
	List(ctx context.Context) ([]string, error)
	Info(ctx context.Context, hash string) (mlstore.Info, error)
	Delete(ctx context.Context, hash string) error
}

type storeRequest struct {
	URI string `json:"uri"`
}

type hashResponse struct {
	Hash string `json:"hash"`
}

type loadResponse struct {
	Hash      string `json:"hash"`
	Framework string `json:"framework"`
	Predictor bool   `json:"predictor"`
	Forwarder bool   `json:"forwarder"`
}

// Models mounts POST /, GET /, GET /{hash} and DELETE /{hash}. With a
// loader it also mounts GET /{hash}/model, which checks that the stored
// bytes load under the framework named in the query.
func Models(logger *slog.Logger, s ModelStore, loader *mlmodel.Loader) http.Handler {
	h := &models{log: logger, store: s, loader: loader}
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{hash}", h.info)
	r.Delete("/{hash}", h.delete)
	if loader != nil {
		r.Get("/{hash}/model", h.load)
	}
	return r
}

type models struct {
	log    *slog.Logger
	store  ModelStore
	loader *mlmodel.Loader
}

func (h *models) create(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.fail(w, r, udferr.Invalid("store request: %v", err))
		return
	}
	uri := strings.TrimSpace(req.URI)
	if uri == "" {
		h.fail(w, r, udferr.Missing("store request", "uri"))
		return
	}
	hash, err := h.store.Store(r.Context(), uri)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hashResponse{Hash: hash})
}

func (h *models) list(w http.ResponseWriter, r *http.Request) {
	hashes, err := h.store.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hashes)
}

func (h *models) info(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	info, err := h.store.Info(mylog.WithModelHash(r.Context(), hash), hash)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *models) delete(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if err := h.store.Delete(mylog.WithModelHash(r.Context(), hash), hash); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hashResponse{Hash: hash})
}

func (h *models) load(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	fw, err := mlmodel.ParseFramework(r.URL.Query().Get("framework"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ref, err := mlmodel.NewRef(fw, hash, "", "", hash)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.loader.Load(mylog.WithModelHash(r.Context(), hash), ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_, isPred := m.Predictor()
	_, isFwd := m.Forwarder()
	writeJSON(w, http.StatusOK, loadResponse{Hash: hash, Framework: string(fw), Predictor: isPred, Forwarder: isFwd})
}

// StatusOf maps an error class to an HTTP status.
func StatusOf(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, udferr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, udferr.ErrUnsupportedFramework):
		return http.StatusUnprocessableEntity
	case udferr.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, udferr.ErrUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *models) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusOf(err)
	lvl := slog.LevelInfo
	if code >= http.StatusInternalServerError {
		lvl = slog.LevelError
	}
	h.log.LogAttrs(r.Context(), lvl, "model request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", code),
		slog.Any("err", err),
	)
	writeJSON(w, code, udferr.Report(err))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
