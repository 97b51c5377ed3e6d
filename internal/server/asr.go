package server

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/my6014/Dialect-Master/internal/audio"
	"github.com/my6014/Dialect-Master/internal/engine"
	"github.com/my6014/Dialect-Master/internal/recognition"
)

// multipartHeadroom covers the per-part overhead the multipart reader charges against
// its memory budget
const multipartHeadroom = 1 << 20

// asrForm is the validated shape of a recognition request
type asrForm struct {
	Lang  string `validate:"asrlang"`
	Files int    `validate:"min=1"`
}

// ASRResponse is the body of a successful recognition request
type ASRResponse struct {
	Result []recognition.Result `json:"result"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("asrlang", func(fl validator.FieldLevel) bool {
		_, err := engine.ParseLanguage(fl.Field().String())
		return err == nil
	})
	return v
}

// validationMessage turns validator failures into the first human readable problem
func validationMessage(err error) (field, message string) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "request", err.Error()
	}

	fe := verrs[0]
	switch fe.Field() {
	case "Lang":
		names := make([]string, 0, len(engine.Languages()))
		for _, l := range engine.Languages() {
			names = append(names, string(l))
		}
		return "lang", "unsupported language " + quote(fe.Value()) + ", expected one of " + strings.Join(names, ", ")
	case "Files":
		return "files", "at least one audio file is required"
	default:
		return strings.ToLower(fe.Field()), fe.Error()
	}
}

func quote(v any) string {
	s, _ := v.(string)
	return `"` + s + `"`
}

// multipartMemory keeps every part of a body within the upload limit in memory, so a
// request rejected during validation never leaves temp files behind
func (h *HTTPServer) multipartMemory() int64 {
	return h.config.HTTP.GetMaxUploadBytes() + multipartHeadroom
}

// handleASR handles batch recognition requests
func (h *HTTPServer) handleASR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	logger := h.logger.With(slog.String("request_id", recognition.RequestIDFromContext(r.Context())))

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

	files := r.MultipartForm.File["files"]
	lang := formValue(r.MultipartForm, "lang")

	form := asrForm{Lang: lang, Files: len(files)}
	if err := h.validate.Struct(form); err != nil {
		field, message := validationMessage(err)
		writeDetail(w, http.StatusUnprocessableEntity, (&recognition.ValidationError{Field: field, Message: message}).Error())
		return
	}

	language, _ := engine.ParseLanguage(lang)

	var keys []string
	if raw := formValue(r.MultipartForm, "keys"); raw != "" {
		keys = strings.Split(raw, ",")
	}

	inputs := make([]recognition.AudioInput, len(files))
	for i, fh := range files {
		inputs[i] = recognition.AudioInput{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		}
	}

	logger.Info("Recognition request",
		slog.Int("files", len(files)),
		slog.String("lang", string(language)),
		slog.Bool("keys_overridden", keys != nil),
	)

	results, err := h.deps.Recognizer.Handle(r.Context(), inputs, language, keys)
	if err != nil {
		h.writeRecognitionError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, ASRResponse{Result: results})
}

// writeRecognitionError maps batch failures onto HTTP statuses
func (h *HTTPServer) writeRecognitionError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		validationErr *recognition.ValidationError
		decodeErr     *audio.DecodeError
		engineErr     *recognition.EngineError
	)

	switch {
	case errors.As(err, &validationErr):
		writeDetail(w, http.StatusUnprocessableEntity, validationErr.Error())
	case errors.As(err, &decodeErr):
		logger.Warn("Rejected undecodable upload",
			slog.String("filename", decodeErr.Filename),
			slog.String("format", string(decodeErr.Format)),
			slog.String("header", decodeErr.HeaderHex()),
			slog.String("error", decodeErr.Err.Error()),
		)
		writeDetail(w, http.StatusBadRequest, decodeErr.Error())
	case errors.As(err, &engineErr):
		logger.Error("Recognition engine failed", slog.String("error", engineErr.Err.Error()))
		writeDetail(w, http.StatusInternalServerError, engineErr.Error())
	default:
		logger.Error("Recognition failed", slog.String("error", err.Error()))
		writeDetail(w, http.StatusInternalServerError, "recognition failed")
	}
}

func formValue(form *multipart.Form, name string) string {
	if vs := form.Value[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
