package httpserver

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	wharfcfg "github.com/wharfdb/wharf/internal/config"
	"github.com/wharfdb/wharf/internal/runtime"
	pebblestore "github.com/wharfdb/wharf/internal/storage/pebble"
	logpkg "github.com/wharfdb/wharf/pkg/log"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	rt, err := runtime.Open(runtime.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever, Config: wharfcfg.Default()}, nil)
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	return New(rt, logger)
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestCreateBasinAndStream(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/basins/b1", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create basin status: %d body: %s", w.Code, w.Body.String())
	}

	body := `{"maxRecordsPerBatch":10,"payloadMaxBytes":4096,"headersMaxBytes":1024}`
	req = httptest.NewRequest(http.MethodPost, "/v1/basins/b1/streams/s1", strings.NewReader(body))
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create stream status: %d body: %s", w.Code, w.Body.String())
	}
}

func TestAppendAndReadRoundTrip(t *testing.T) {
	s := newTestServer(t)

	appendBody := `{"records":[{"body":"` + base64.StdEncoding.EncodeToString([]byte("hello")) + `"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/basins/b1/streams/s1/append", strings.NewReader(appendBody))
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("append status: %d body: %s", w.Code, w.Body.String())
	}
	var ack ackJSON
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.FirstSeq != 0 {
		t.Fatalf("expected first append at seq 0, got %d", ack.FirstSeq)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/basins/b1/streams/s1/records?from_seq=0&limit=10", nil)
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("read status: %d", w.Code)
	}
	var rec recordJSON
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(rec.Body)
	if err != nil || string(decoded) != "hello" {
		t.Fatalf("unexpected record body: %+v", rec)
	}
}

func TestCheckTailReflectsAppend(t *testing.T) {
	s := newTestServer(t)

	appendBody := `{"records":[{"body":"` + base64.StdEncoding.EncodeToString([]byte("x")) + `"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/basins/b1/streams/s1/append", strings.NewReader(appendBody))
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("append status: %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/basins/b1/streams/s1/tail", nil)
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("tail status: %d", w.Code)
	}
	var tail map[string]uint64
	if err := json.Unmarshal(w.Body.Bytes(), &tail); err != nil {
		t.Fatalf("decode tail: %v", err)
	}
	if tail["next_seq_num"] != 1 {
		t.Fatalf("expected next_seq_num=1, got %+v", tail)
	}
}

func TestAppendRejectsInvalidBase64(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/basins/b1/streams/s1/append", strings.NewReader(`{"records":[{"body":"not-base64!!"}]}`))
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTailStreamsLiveAppend(t *testing.T) {
	s := newTestServer(t)
	// A real listener is needed here: httptest.ResponseRecorder buffers the
	// whole response and never hands partial writes to a reader, so it can't
	// exercise a streaming handler the way a live HTTP connection does.
	srv := httptest.NewServer(s.srv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/basins/b1/streams/s1/records?tail=true")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tail status: %d", resp.StatusCode)
	}

	// Give the tailing goroutine time to durable-scan the (empty) stream and
	// attach its broadcast subscription before the append below.
	time.Sleep(50 * time.Millisecond)

	appendBody := `{"records":[{"body":"` + base64.StdEncoding.EncodeToString([]byte("live")) + `"}]}`
	areq := httptest.NewRequest(http.MethodPost, "/v1/basins/b1/streams/s1/append", strings.NewReader(appendBody))
	aw := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(aw, areq)
	if aw.Code != http.StatusOK {
		t.Fatalf("append status: %d", aw.Code)
	}

	scanner := bufio.NewScanner(resp.Body)
	lineCh := make(chan string, 1)
	go func() {
		if scanner.Scan() {
			lineCh <- scanner.Text()
		}
	}()

	select {
	case line := <-lineCh:
		var got recordJSON
		if err := json.Unmarshal([]byte(line), &got); err != nil {
			t.Fatalf("decode tailed line: %v", err)
		}
		body, _ := base64.StdEncoding.DecodeString(got.Body)
		if string(body) != "live" {
			t.Fatalf("unexpected tailed record: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tailed record")
	}
}
