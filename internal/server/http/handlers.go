package httpserver

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/wharfdb/wharf/internal/apierr"
	"github.com/wharfdb/wharf/internal/basin"
	"github.com/wharfdb/wharf/internal/reader"
	"github.com/wharfdb/wharf/internal/record"
	"github.com/wharfdb/wharf/internal/streamer"
	"github.com/wharfdb/wharf/internal/streamid"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func parseBool(s string) bool {
	return s == "true" || s == "1"
}

func parseUint64(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}

type basinCreateReq struct {
	DefaultStreamConfig streamConfigJSON `json:"defaultStreamConfig"`
}

type streamConfigJSON struct {
	RetentionSeconds   int64  `json:"retentionSeconds"`
	TimestampingMode   string `json:"timestampingMode"`
	StrictTimestamps   bool   `json:"strictTimestamps"`
	StorageClass       string `json:"storageClass"`
	MaxRecordsPerBatch int    `json:"maxRecordsPerBatch"`
	PayloadMaxBytes    int    `json:"payloadMaxBytes"`
	HeadersMaxBytes    int    `json:"headersMaxBytes"`
}

func (c streamConfigJSON) toDomain() basin.StreamConfig {
	mode := c.TimestampingMode
	if mode == "" {
		mode = basin.TimestampingClientPrefer
	}
	return basin.StreamConfig{
		RetentionSeconds:   c.RetentionSeconds,
		TimestampingMode:   mode,
		StrictTimestamps:   c.StrictTimestamps,
		StorageClass:       c.StorageClass,
		MaxRecordsPerBatch: c.MaxRecordsPerBatch,
		PayloadMaxBytes:    c.PayloadMaxBytes,
		HeadersMaxBytes:    c.HeadersMaxBytes,
	}
}

func (s *Server) handleCreateBasin(w http.ResponseWriter, r *http.Request) {
	basinName := r.PathValue("basin")
	var req basinCreateReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	err := s.rt.Basins().CreateBasin(r.Context(), basinName, basin.BasinConfig{
		DefaultStreamConfig: req.DefaultStreamConfig.toDomain(),
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"basin": basinName})
}

func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	basinName, streamName := r.PathValue("basin"), r.PathValue("stream")
	var req streamConfigJSON
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := s.rt.Basins().CreateStream(r.Context(), basinName, streamName, req.toDomain()); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"basin": basinName, "stream": streamName})
}

func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	basinName, streamName := r.PathValue("basin"), r.PathValue("stream")
	var req streamConfigJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg := req.toDomain()
	if err := s.rt.Basins().Reconfigure(r.Context(), basinName, streamName, cfg); err != nil {
		s.writeErr(w, err)
		return
	}
	if err := s.rt.Registry().Reconfigure(basinName, streamName, cfg); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"basin": basinName, "stream": streamName})
}

func (s *Server) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	basinName, streamName := r.PathValue("basin"), r.PathValue("stream")
	if err := s.rt.DeleteStream(r.Context(), basinName, streamName); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type appendRecordJSON struct {
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers"`
	TimestampMs *uint64           `json:"timestamp_ms,omitempty"`
}

type appendReqJSON struct {
	Records          []appendRecordJSON `json:"records"`
	MatchSeqNum      *uint64            `json:"match_seq_num,omitempty"`
	StrictTimestamps bool               `json:"strict_timestamps"`
}

type ackJSON struct {
	FirstSeq        uint64 `json:"first_seq"`
	LastSeq         uint64 `json:"last_seq"`
	LastTimestampMs uint64 `json:"last_timestamp_ms"`
	TailNextSeq     uint64 `json:"tail_next_seq"`
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	basinName, streamName := r.PathValue("basin"), r.PathValue("stream")
	var req appendReqJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inputs := make([]streamer.AppendRecordInput, 0, len(req.Records))
	for _, rec := range req.Records {
		body, err := base64.StdEncoding.DecodeString(rec.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "record body is not valid base64")
			return
		}
		headers := make([]record.Header, 0, len(rec.Headers))
		for k, v := range rec.Headers {
			val, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "header value is not valid base64")
				return
			}
			headers = append(headers, record.Header{Name: []byte(k), Value: val})
		}
		inputs = append(inputs, streamer.AppendRecordInput{Body: body, Headers: headers, TimestampMs: rec.TimestampMs})
	}

	h, err := s.rt.Registry().GetOrSpawn(r.Context(), basinName, streamName)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	ack, err := h.Append(&streamer.AppendRequest{Records: inputs, MatchSeqNum: req.MatchSeqNum, StrictTimestamps: req.StrictTimestamps})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ackJSON{FirstSeq: ack.FirstSeq, LastSeq: ack.LastSeq, LastTimestampMs: ack.LastTimestampMs, TailNextSeq: ack.TailNextSeq})
}

type recordJSON struct {
	SeqNum      uint64            `json:"seq_num"`
	TimestampMs uint64            `json:"timestamp_ms"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body"`
}

func toRecordJSON(rec record.Record) recordJSON {
	var headers map[string]string
	if len(rec.Headers) > 0 {
		headers = make(map[string]string, len(rec.Headers))
		for _, h := range rec.Headers {
			headers[string(h.Name)] = base64.StdEncoding.EncodeToString(h.Value)
		}
	}
	return recordJSON{
		SeqNum:      rec.SeqNum,
		TimestampMs: rec.TimestampMs,
		Headers:     headers,
		Body:        base64.StdEncoding.EncodeToString(rec.Body),
	}
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	basinName, streamName := r.PathValue("basin"), r.PathValue("stream")
	id := streamid.Derive(basinName, streamName)
	q := r.URL.Query()
	limit := 0
	if v, ok := parseUint64(q.Get("limit")); ok {
		limit = int(v)
	}
	opts := reader.Options{Limit: limit, Filter: q.Get("filter")}
	rd := reader.New(s.rt.KV(), id)

	if parseBool(q.Get("tail")) {
		s.streamTail(w, r, basinName, streamName, rd, q)
		return
	}

	var (
		recs []record.Record
		err  error
	)
	if ts, ok := parseUint64(q.Get("from_ts")); ok {
		recs, err = rd.ReadFromTimestamp(r.Context(), ts, opts)
	} else {
		startSeq, _ := parseUint64(q.Get("from_seq"))
		recs, err = rd.ReadFromSeq(r.Context(), startSeq, opts)
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for _, rec := range recs {
		_ = enc.Encode(toRecordJSON(rec))
	}
}

func (s *Server) streamTail(w http.ResponseWriter, r *http.Request, basinName, streamName string, rd *reader.Reader, q map[string][]string) {
	h, err := s.rt.Registry().GetOrSpawn(r.Context(), basinName, streamName)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	startSeq, _ := parseUint64(first(q, "from_seq"))
	if ts, ok := parseUint64(first(q, "from_ts")); ok {
		if recs, err := rd.ReadFromTimestamp(r.Context(), ts, reader.Options{Limit: 1}); err == nil && len(recs) > 0 {
			startSeq = recs[0].SeqNum
		} else if tail, err := h.CheckTail(); err == nil {
			startSeq = tail.NextSeqNum
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	events := rd.TailFrom(r.Context(), startSeq, h)
	for ev := range events {
		if ev.Err != nil {
			if apierr.KindOf(ev.Err) == apierr.KindUnavailable {
				return
			}
			_ = enc.Encode(map[string]string{"error": ev.Err.Error()})
			_ = bw.Flush()
			return
		}
		_ = enc.Encode(toRecordJSON(ev.Record))
		_ = bw.Flush()
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func first(q map[string][]string, key string) string {
	if v, ok := q[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func (s *Server) handleCheckTail(w http.ResponseWriter, r *http.Request) {
	basinName, streamName := r.PathValue("basin"), r.PathValue("stream")
	h, err := s.rt.Registry().GetOrSpawn(r.Context(), basinName, streamName)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	tail, err := reader.CheckTail(r.Context(), s.rt.KV(), streamid.Derive(basinName, streamName), h)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"next_seq_num": tail.NextSeqNum, "last_timestamp_ms": tail.LastTimestamp})
}
