package client

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStreamAppendPostsBase64Body(t *testing.T) {
	var gotBody appendReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/basins/b1/streams/s1/append" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(ackResp{FirstSeq: 3, LastSeq: 3, TailNextSeq: 4})
	}))
	defer srv.Close()

	cmd := NewStreamCommand(func() string { return srv.URL })
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"append", "--basin", "b1", "--stream", "s1", "--data", "hello"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(gotBody.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(gotBody.Records))
	}
	decoded, err := base64.StdEncoding.DecodeString(gotBody.Records[0].Body)
	if err != nil || string(decoded) != "hello" {
		t.Fatalf("unexpected record body: %+v, err=%v", gotBody, err)
	}
	if !strings.Contains(out.String(), `"tail_next_seq":4`) {
		t.Fatalf("expected ack in output, got %q", out.String())
	}
}

func TestStreamReadPrintsEachRecordLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_ = json.NewEncoder(w).Encode(recordResp{SeqNum: 0, Body: base64.StdEncoding.EncodeToString([]byte("a"))})
		_ = json.NewEncoder(w).Encode(recordResp{SeqNum: 1, Body: base64.StdEncoding.EncodeToString([]byte("b"))})
	}))
	defer srv.Close()

	cmd := NewStreamCommand(func() string { return srv.URL })
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"read", "--basin", "b1", "--stream", "s1"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 output lines, got %d: %q", len(lines), out.String())
	}
}

func TestStreamCreateRequiresBasinAndStream(t *testing.T) {
	cmd := NewStreamCommand(func() string { return "http://unused" })
	cmd.SetArgs([]string{"create"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error when --basin/--stream are missing")
	}
}
