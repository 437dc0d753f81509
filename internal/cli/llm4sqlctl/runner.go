package llm4sqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type command struct {
	method  string
	path    string
	body    any
	args    int
	render  func(w io.Writer, raw []byte) error
	rawBody bool
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("llm4sqlctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "llm4sql API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 30s)")
	format := fs.String("format", "table", "output format: table|json")
	rowLimit := fs.Int("row-limit", 0, "maximum rows to return (0 uses the server limit)")
	exportFormat := fs.String("export-format", "csv", "export file format: csv|parquet")
	output := fs.String("o", "", "export output file (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}
	if *format != "table" && *format != "json" {
		_, _ = fmt.Fprintf(stderr, "invalid -format %q\n", *format)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	name := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	dbPath := func() string {
		return "/v1/databases/" + url.PathEscape(rest[0])
	}

	var cmd command
	switch name {
	case "health":
		cmd = command{method: http.MethodGet, path: "/v1/health"}
	case "ready":
		cmd = command{method: http.MethodGet, path: "/v1/ready"}
	case "databases":
		cmd = command{method: http.MethodGet, path: "/v1/databases", render: renderDatabases}
	case "schema":
		cmd = command{method: http.MethodGet, args: 1, render: renderSchema}
	case "translate":
		cmd = command{method: http.MethodPost, args: 2}
	case "ask":
		cmd = command{method: http.MethodPost, args: 2, render: renderResult}
	case "query":
		cmd = command{method: http.MethodPost, args: 2, render: renderResult}
	case "export":
		cmd = command{method: http.MethodPost, args: 2, rawBody: true}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		writeUsage(stderr)
		return 2
	}
	if len(rest) < cmd.args {
		_, _ = fmt.Fprintf(stderr, "%s: expected %d argument(s)\n\n", name, cmd.args)
		writeUsage(stderr)
		return 2
	}
	if cmd.args > 0 {
		text := strings.TrimSpace(strings.Join(rest[1:], " "))
		switch name {
		case "schema":
			cmd.path = dbPath() + "/schema"
		case "translate":
			cmd.path = dbPath() + "/translate"
			cmd.body = map[string]any{"question": text}
		case "ask":
			cmd.path = dbPath() + "/ask"
			cmd.body = map[string]any{"question": text, "row_limit": *rowLimit}
		case "query":
			cmd.path = dbPath() + "/query"
			cmd.body = map[string]any{"sql": text, "row_limit": *rowLimit}
		case "export":
			cmd.path = dbPath() + "/export?format=" + url.QueryEscape(*exportFormat)
			cmd.body = map[string]any{"sql": text, "row_limit": *rowLimit}
		}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + cmd.path
	code, responseBody, err := doRequest(ctx, client, cmd.method, endpoint, *apiKey, cmd.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if cmd.rawBody {
		return writeExport(stdout, stderr, *output, responseBody)
	}

	if *format == "table" && cmd.render != nil {
		if err := cmd.render(stdout, responseBody); err != nil {
			_, _ = fmt.Fprintf(stderr, "render: %v\n", err)
			return 1
		}
		return 0
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func writeExport(stdout, stderr io.Writer, output string, body []byte) int {
	if output == "" || output == "-" {
		_, _ = stdout.Write(body)
		return 0
	}
	if err := os.WriteFile(output, body, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "write %s: %v\n", output, err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "wrote %d bytes to %s\n", len(body), output)
	return 0
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: llm4sqlctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                     GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                      GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  databases                  GET /v1/databases")
	_, _ = fmt.Fprintln(w, "  schema <db>                GET /v1/databases/<db>/schema")
	_, _ = fmt.Fprintln(w, "  translate <db> <question>  POST /v1/databases/<db>/translate")
	_, _ = fmt.Fprintln(w, "  ask <db> <question>        POST /v1/databases/<db>/ask")
	_, _ = fmt.Fprintln(w, "  query <db> <sql>           POST /v1/databases/<db>/query")
	_, _ = fmt.Fprintln(w, "  export <db> <sql>          POST /v1/databases/<db>/export")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
