// Package main implements a CLI tool for probing a running server: it
// replays identical generate requests and reports how the rate limiter
// answers each one.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"novel-ai-proxy/internal/llm"
)

type probeOptions struct {
	server       string
	requests     int
	option       string
	prompt       string
	instruction  string
	forwardedFor string
	showConfig   bool
	configPath   string
}

// probeResult is what one request observed.
type probeResult struct {
	Status    int
	Limit     string
	Remaining string
	Reset     time.Time
	Bytes     int64
	Body      string
	Duration  time.Duration
	Err       error
}

func probe(ctx context.Context, client *http.Client, opts *probeOptions) probeResult {
	start := time.Now()
	payload, err := json.Marshal(llm.GenerateRequest{
		Prompt:  opts.prompt,
		Option:  opts.option,
		Command: opts.instruction,
	})
	if err != nil {
		return probeResult{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.server+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return probeResult{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", opts.forwardedFor)
	}

	resp, err := client.Do(req)
	if err != nil {
		return probeResult{Err: err, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	res := probeResult{
		Status:    resp.StatusCode,
		Limit:     resp.Header.Get("X-RateLimit-Limit"),
		Remaining: resp.Header.Get("X-RateLimit-Remaining"),
	}
	if ms, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		res.Reset = time.UnixMilli(ms)
	}

	var body bytes.Buffer
	res.Bytes, res.Err = io.Copy(&body, resp.Body)
	if resp.StatusCode != http.StatusOK {
		res.Body = body.String()
	}
	res.Duration = time.Since(start)
	return res
}

func printResult(w io.Writer, n int, res probeResult) {
	if res.Err != nil && res.Status == 0 {
		fmt.Fprintf(w, "#%-3d %s %v\n", n, color.RedString("ERR"), res.Err)
		return
	}

	status := strconv.Itoa(res.Status)
	switch {
	case res.Status == http.StatusOK:
		status = color.GreenString(status)
	case res.Status == http.StatusTooManyRequests:
		status = color.YellowString(status)
	default:
		status = color.RedString(status)
	}

	fmt.Fprintf(w, "#%-3d %s %6dB %8s", n, status, res.Bytes, res.Duration.Round(time.Millisecond))
	if res.Limit != "" {
		fmt.Fprintf(w, "  limit=%s remaining=%s reset=%s", res.Limit, res.Remaining, res.Reset.Format(time.RFC3339))
	}
	if res.Body != "" {
		fmt.Fprintf(w, "  %q", res.Body)
	}
	if res.Err != nil {
		fmt.Fprintf(w, "  %s", color.RedString("stream: %v", res.Err))
	}
	fmt.Fprintln(w)
}

func newRootCmd() *cobra.Command {
	opts := &probeOptions{}

	cmd := &cobra.Command{
		Use:   "apitest",
		Short: "Probe a running server's generate endpoint",
		Long: `Send the same generate request several times and print the status and
X-RateLimit-* headers of each response.

Examples:
  apitest --requests 55
  apitest --server http://localhost:8080 --forwarded-for 203.0.113.9 --option zap -i "make it eerie"
  apitest --show-config`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if opts.showConfig {
				return DisplayConfig(out, opts.configPath)
			}

			client := &http.Client{Timeout: 2 * time.Minute}
			fmt.Fprintf(out, "Probing %s with %d %q request(s)\n", opts.server, opts.requests, opts.option)
			fmt.Fprintln(out, "----------------------------")

			var ok, limited, failed int
			for i := 1; i <= opts.requests; i++ {
				res := probe(cmd.Context(), client, opts)
				printResult(out, i, res)
				switch {
				case res.Status == http.StatusOK && res.Err == nil:
					ok++
				case res.Status == http.StatusTooManyRequests:
					limited++
				default:
					failed++
				}
			}

			fmt.Fprintln(out, "----------------------------")
			fmt.Fprintf(out, "%d ok, %d rate limited, %d failed\n", ok, limited, failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "base URL of the server")
	cmd.Flags().IntVarP(&opts.requests, "requests", "n", 1, "number of requests to send")
	cmd.Flags().StringVar(&opts.option, "option", "fix", "command to request")
	cmd.Flags().StringVar(&opts.prompt, "prompt", "Their was a dog in the feild.", "selected text to send")
	cmd.Flags().StringVarP(&opts.instruction, "instruction", "i", "", "free-text instruction (zap, add_*)")
	cmd.Flags().StringVar(&opts.forwardedFor, "forwarded-for", "", "X-Forwarded-For value, the throttling identity")
	cmd.Flags().BoolVar(&opts.showConfig, "show-config", false, "print the resolved server configuration and exit")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file for --show-config")
	return cmd
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
