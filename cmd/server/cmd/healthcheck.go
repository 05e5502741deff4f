package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// healthcheckCmd represents the healthcheck command
	healthcheckCmd = &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is healthy",
		Long: `Performs a health check by calling the /__heartbeat__ endpoint.

This command is used by Docker HEALTHCHECK to monitor container health.
It exits with code 0 if the server is healthy, non-zero otherwise.

Exit codes:
  0 - Server is healthy
  1 - Server is unhealthy or unreachable
  2 - Invalid response from server`,
		RunE: runHealthcheck,
	}

	// Flags
	healthcheckTimeout int
	healthcheckURL     string
)

func init() {
	healthcheckCmd.Flags().IntVar(&healthcheckTimeout, "timeout", 5, "timeout in seconds")
	healthcheckCmd.Flags().StringVar(&healthcheckURL, "url", "", "health check URL (default: http://localhost:{SERVER_PORT}/__heartbeat__)")
}

// heartbeatResponse matches the response from internal/api/handlers/monitor.go
type heartbeatResponse struct {
	Status string `json:"status"`
}

// errBadResponse marks a heartbeat response body that could not be decoded.
var errBadResponse = errors.New("malformed heartbeat response")

// defaultHeartbeatURL builds the heartbeat URL from the SERVER_PORT
// environment variable, matching the port the serve command binds.
func defaultHeartbeatURL() string {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8000"
	}
	return fmt.Sprintf("http://localhost:%s/__heartbeat__", port)
}

// checkHeartbeat calls the heartbeat endpoint and returns nil when the
// server reports status OK.
func checkHeartbeat(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat returned status %d", resp.StatusCode)
	}

	var heartbeat heartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&heartbeat); err != nil {
		return fmt.Errorf("%w: %v", errBadResponse, err)
	}
	if heartbeat.Status != "OK" {
		return fmt.Errorf("server status %q", heartbeat.Status)
	}
	return nil
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	url := healthcheckURL
	if url == "" {
		url = defaultHeartbeatURL()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(healthcheckTimeout)*time.Second)
	defer cancel()

	if err := checkHeartbeat(ctx, url); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		if errors.Is(err, errBadResponse) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	return nil
}
