// Command mockengine is a stand-in recognition model server for local development.
// It accepts the same multipart batches the service sends and answers with canned
// tagged transcripts, one per clip, keyed by the submitted keys.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/my6014/Dialect-Master/internal/audio"
)

type result struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

type response struct {
	Result []result `json:"result"`
}

var cannedTranscripts = []string{
	"<|zh|><|NEUTRAL|><|Speech|><|withitn|>这是一段测试转写。",
	"<|yue|><|HAPPY|><|Laughter|><|withitn|>今日天气好好。",
	"<|en|><|NEUTRAL|><|BGM|><|woitn|>this is a test transcript",
}

type mockEngine struct {
	delay  time.Duration
	logger *slog.Logger
}

func (m *mockEngine) handleASR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	keys := r.MultipartForm.Value["keys"]

	resp := response{Result: make([]result, 0, len(files))}
	for i, fh := range files {
		duration, err := clipDuration(fh)
		if err != nil {
			http.Error(w, fmt.Sprintf("cannot read audio file %s: %v", fh.Filename, err), http.StatusBadRequest)
			return
		}

		key := fh.Filename
		if i < len(keys) {
			key = keys[i]
		}

		m.logger.Info("Transcribing clip",
			slog.String("request_id", r.Header.Get("X-Request-ID")),
			slog.String("key", key),
			slog.Duration("duration", duration),
			slog.String("lang", r.FormValue("lang")),
		)

		resp.Result = append(resp.Result, result{
			Key:  key,
			Text: cannedTranscripts[i%len(cannedTranscripts)],
		})
	}

	time.Sleep(m.delay)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func clipDuration(fh *multipart.FileHeader) (time.Duration, error) {
	f, err := fh.Open()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}

	wave, err := audio.DecodeWAV(data)
	if err != nil {
		return 0, err
	}
	return wave.Duration(), nil
}

func main() {
	addr := flag.String("addr", ":50000", "Listen address")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated inference time per batch")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := &mockEngine{delay: *delay, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/asr", m.handleASR)

	logger.Info("Mock recognition engine starting",
		slog.String("address", *addr),
		slog.String("endpoint", "/api/v1/asr"),
	)

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
