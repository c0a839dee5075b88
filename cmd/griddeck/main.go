package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/griddeck/griddeck/internal/daemon"
	griddeckversion "github.com/griddeck/griddeck/internal/version"
)

const errorMessageLimit = 2048

var apiPort int

func main() {
	rootCmd := &cobra.Command{
		Use:           "griddeck",
		Short:         "GridDeck CLI - talks to the local griddeckd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = griddeckversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	rootCmd.PersistentFlags().IntVar(&apiPort, "api-port", daemon.DefaultAPIPort, "daemon API port")
	rootCmd.PersistentFlags().Bool("json", false, "output raw JSON")

	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(profilesCmd())
	rootCmd.AddCommand(pluginsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func baseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", apiPort)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func readErrorMessage(resp *http.Response) string {
	limited := io.LimitReader(resp.Body, errorMessageLimit)
	data, err := io.ReadAll(limited)
	if err != nil || len(data) == 0 {
		return strings.TrimSpace(resp.Status)
	}
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return errResp.Error
	}
	return strings.TrimSpace(string(data))
}

// request performs a JSON API call against the daemon and decodes the
// response into out when out is non-nil.
func request(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(blob)
	}
	req, err := http.NewRequest(method, baseURL()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("is griddeckd running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New(readErrorMessage(resp))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// printJSON emits indented JSON when --json was passed and reports whether
// it did.
func printJSON(cmd *cobra.Command, data any) (bool, error) {
	jsonMode, _ := cmd.Flags().GetBool("json")
	if !jsonMode {
		return false, nil
	}
	blob, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return true, err
	}
	fmt.Println(string(blob))
	return true, nil
}
