package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// NewBasinCommand constructs the `basin` command group.
func NewBasinCommand(baseURL func() string) *cobra.Command {
	basinCmd := &cobra.Command{Use: "basin", Short: "Basin operations"}
	basinCmd.AddCommand(newBasinCreateCommand(baseURL))
	return basinCmd
}

func newBasinCreateCommand(baseURL func() string) *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a basin",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			resp, err := http.Post(baseURL()+"/v1/basins/"+name, "application/json", bytes.NewReader(nil))
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode >= 300 {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("http error: %s: %s", resp.Status, body)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", resp.Status)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Basin name")
	return createCmd
}

func doJSON(method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http error: %s: %s", resp.Status, b)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
