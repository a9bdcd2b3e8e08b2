// Command titanctl is the operator CLI against a running coordination
// core: registry inspection, control commands, and on-demand report
// fetch, all over the HTTP surfaces internal/httpapi and
// internal/reportapi expose. It holds no core state of its own — every
// subcommand is a thin HTTP client call.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"titan/internal/authz"
)

func main() {
	app := &cli.App{
		Name:    "titanctl",
		Usage:   "Operator CLI for the coordination core",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Base URL of the running coordination core",
				Value:   "http://localhost:8080",
				EnvVars: []string{"TITANCTL_SERVER"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token for control commands",
				EnvVars: []string{"TITANCTL_TOKEN"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "registry",
				Usage: "Inspect the Module Registry",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List registered modules",
						Action: runRegistryList,
					},
				},
			},
			{
				Name:      "control",
				Usage:     "Issue a control command (halt, flush, restart, adjust_capital, set_persona, set_morphic_mode)",
				ArgsUsage: "<action>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Usage: "Tenant ID"},
					&cli.StringFlag{Name: "args", Usage: "JSON-encoded command arguments", Value: "{}"},
				},
				Action: runControl,
			},
			{
				Name:  "report",
				Usage: "Fetch or trigger a persisted report",
				Subcommands: []*cli.Command{
					{
						Name:   "heatmap",
						Usage:  "Trigger a latency heatmap snapshot",
						Action: runReportTrigger("/reports/heatmap/snapshot"),
					},
					{
						Name:   "recovery",
						Usage:  "Trigger a recovery report snapshot",
						Action: runReportTrigger("/reports/recovery/snapshot"),
					},
				},
			},
			{
				Name:      "issue-token",
				Usage:     "Mint a short-lived HMAC control token (requires CONTROL_TOKEN_SECRET in this process' environment)",
				ArgsUsage: "<tenant-id> <scope...>",
				Action:    runIssueToken,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "titanctl:", err)
		os.Exit(1)
	}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

func runRegistryList(c *cli.Context) error {
	resp, err := httpClient().Get(c.String("server") + "/reportapi/registry/modules")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func runControl(c *cli.Context) error {
	action := c.Args().First()
	if action == "" {
		return fmt.Errorf("control requires an action argument")
	}

	req := struct {
		Action   string          `json:"action"`
		TenantID string          `json:"tenant_id"`
		Args     json.RawMessage `json:"args"`
	}{
		Action:   action,
		TenantID: c.String("tenant"),
		Args:     json.RawMessage(c.String("args")),
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.String("server")+"/admin/control", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token := c.String("token"); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func runReportTrigger(path string) cli.ActionFunc {
	return func(c *cli.Context) error {
		resp, err := httpClient().Get(c.String("server") + path)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		return printResponse(resp)
	}
}

func runIssueToken(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("issue-token requires a tenant id")
	}
	secret := os.Getenv("CONTROL_TOKEN_SECRET")
	if secret == "" {
		return fmt.Errorf("CONTROL_TOKEN_SECRET is not set")
	}
	verifier := authz.NewHMACVerifier([]byte(secret))

	tenantID := c.Args().First()
	scopes := make([]authz.Scope, 0, c.Args().Len()-1)
	for _, s := range c.Args().Slice()[1:] {
		scopes = append(scopes, authz.Scope(s))
	}

	token, err := verifier.Issue(tenantID, scopes, time.Hour)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s: %s", resp.Status, string(data))
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(data))
	}
	return nil
}
