package client

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

type streamConfigReq struct {
	RetentionSeconds   int64  `json:"retentionSeconds"`
	TimestampingMode   string `json:"timestampingMode,omitempty"`
	StrictTimestamps   bool   `json:"strictTimestamps"`
	StorageClass       string `json:"storageClass,omitempty"`
	MaxRecordsPerBatch int    `json:"maxRecordsPerBatch,omitempty"`
	PayloadMaxBytes    int    `json:"payloadMaxBytes,omitempty"`
	HeadersMaxBytes    int    `json:"headersMaxBytes,omitempty"`
}

type appendRecordReq struct {
	Body string `json:"body"`
}

type appendReq struct {
	Records []appendRecordReq `json:"records"`
}

type ackResp struct {
	FirstSeq        uint64 `json:"first_seq"`
	LastSeq         uint64 `json:"last_seq"`
	LastTimestampMs uint64 `json:"last_timestamp_ms"`
	TailNextSeq     uint64 `json:"tail_next_seq"`
}

type recordResp struct {
	SeqNum      uint64            `json:"seq_num"`
	TimestampMs uint64            `json:"timestamp_ms"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body"`
}

// NewStreamCommand constructs the `stream` command group.
func NewStreamCommand(baseURL func() string) *cobra.Command {
	streamCmd := &cobra.Command{Use: "stream", Short: "Stream operations"}
	streamCmd.AddCommand(
		newStreamCreateCommand(baseURL),
		newStreamAppendCommand(baseURL),
		newStreamReadCommand(baseURL),
		newStreamTailCommand(baseURL),
	)
	return streamCmd
}

func newStreamCreateCommand(baseURL func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a stream in a basin",
		RunE: func(cmd *cobra.Command, args []string) error {
			basin, _ := cmd.Flags().GetString("basin")
			stream, _ := cmd.Flags().GetString("stream")
			retention, _ := cmd.Flags().GetInt64("retention-seconds")
			mode, _ := cmd.Flags().GetString("timestamping-mode")
			if basin == "" || stream == "" {
				return fmt.Errorf("--basin and --stream are required")
			}
			cfg := streamConfigReq{RetentionSeconds: retention, TimestampingMode: mode}
			url := fmt.Sprintf("%s/v1/basins/%s/streams/%s", baseURL(), basin, stream)
			if err := doJSON(http.MethodPost, url, cfg, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status: OK")
			return nil
		},
	}
	cmd.Flags().String("basin", "", "Basin name")
	cmd.Flags().String("stream", "", "Stream name")
	cmd.Flags().Int64("retention-seconds", 0, "Retention in seconds (0 = infinite)")
	cmd.Flags().String("timestamping-mode", "", "client-prefer|client-require|arrival")
	return cmd
}

func newStreamAppendCommand(baseURL func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a record to a stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			basin, _ := cmd.Flags().GetString("basin")
			stream, _ := cmd.Flags().GetString("stream")
			data, _ := cmd.Flags().GetString("data")
			if basin == "" || stream == "" {
				return fmt.Errorf("--basin and --stream are required")
			}
			req := appendReq{Records: []appendRecordReq{{Body: base64.StdEncoding.EncodeToString([]byte(data))}}}
			var ack ackResp
			url := fmt.Sprintf("%s/v1/basins/%s/streams/%s/append", baseURL(), basin, stream)
			if err := doJSON(http.MethodPost, url, req, &ack); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(ack)
		},
	}
	cmd.Flags().String("basin", "", "Basin name")
	cmd.Flags().String("stream", "", "Stream name")
	cmd.Flags().String("data", "", "Record body")
	return cmd
}

func newStreamReadCommand(baseURL func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read records from a stream by sequence number",
		RunE: func(cmd *cobra.Command, args []string) error {
			basin, _ := cmd.Flags().GetString("basin")
			stream, _ := cmd.Flags().GetString("stream")
			fromSeq, _ := cmd.Flags().GetUint64("from-seq")
			limit, _ := cmd.Flags().GetInt("limit")
			if basin == "" || stream == "" {
				return fmt.Errorf("--basin and --stream are required")
			}
			q := url.Values{}
			q.Set("from_seq", strconv.FormatUint(fromSeq, 10))
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			target := fmt.Sprintf("%s/v1/basins/%s/streams/%s/records?%s", baseURL(), basin, stream, q.Encode())
			resp, err := http.Get(target)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode >= 300 {
				return fmt.Errorf("http error: %s", resp.Status)
			}
			return printRecords(cmd, resp.Body)
		},
	}
	cmd.Flags().String("basin", "", "Basin name")
	cmd.Flags().String("stream", "", "Stream name")
	cmd.Flags().Uint64("from-seq", 0, "Start sequence number")
	cmd.Flags().Int("limit", 0, "Max records to return (0 = unbounded)")
	return cmd
}

func newStreamTailCommand(baseURL func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow a stream's live appends",
		RunE: func(cmd *cobra.Command, args []string) error {
			basin, _ := cmd.Flags().GetString("basin")
			stream, _ := cmd.Flags().GetString("stream")
			fromSeq, _ := cmd.Flags().GetUint64("from-seq")
			if basin == "" || stream == "" {
				return fmt.Errorf("--basin and --stream are required")
			}
			q := url.Values{}
			q.Set("from_seq", strconv.FormatUint(fromSeq, 10))
			q.Set("tail", "true")
			target := fmt.Sprintf("%s/v1/basins/%s/streams/%s/records?%s", baseURL(), basin, stream, q.Encode())
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode >= 300 {
				return fmt.Errorf("http error: %s", resp.Status)
			}
			return printRecords(cmd, resp.Body)
		},
	}
	cmd.Flags().String("basin", "", "Basin name")
	cmd.Flags().String("stream", "", "Stream name")
	cmd.Flags().Uint64("from-seq", 0, "Start sequence number")
	return cmd
}

func printRecords(cmd *cobra.Command, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	enc := json.NewEncoder(cmd.OutOrStdout())
	for scanner.Scan() {
		var rec recordResp
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return err
		}
		_ = enc.Encode(rec)
	}
	return scanner.Err()
}
