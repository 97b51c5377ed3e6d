package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/my6014/Dialect-Master/internal/gateway"
	"github.com/my6014/Dialect-Master/internal/recognition"
)

// handleSenseVoice relays a single upload to the upstream recognition service
func (h *HTTPServer) handleSenseVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.GetMaxUploadBytes())
	if err := r.ParseMultipartForm(h.multipartMemory()); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "request body exceeds upload limit")
			return
		}
		writeDetail(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeDetail(w, http.StatusUnprocessableEntity, (&recognition.ValidationError{Field: "file", Message: "field required"}).Error())
		return
	}
	fh := files[0]

	f, err := fh.Open()
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "cannot read upload: "+err.Error())
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "cannot read upload: "+err.Error())
		return
	}

	lang := formValue(r.MultipartForm, "lang")
	if lang == "" {
		lang = "auto"
	}

	resp := h.deps.Gateway.Forward(r.Context(), gateway.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, lang, formValue(r.MultipartForm, "keys"))

	h.logger.Debug("Gateway response",
		slog.String("request_id", recognition.RequestIDFromContext(r.Context())),
		slog.String("outcome", resp.Outcome),
		slog.Int("status", resp.StatusCode),
	)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
