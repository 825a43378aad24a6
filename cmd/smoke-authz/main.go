// Command smoke-authz logs in over HTTP and exercises the Authorizer gRPC
// service through the remote client.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"tallybook.org/internal/auth"
	"tallybook.org/internal/auth/remote"
	"tallybook.org/internal/obs"
)

type smokeConfig struct {
	BaseURL    string
	GRPCTarget string
	Username   string
	Password   string
	Allowed    auth.Permission
	Forbidden  auth.Permission
	Role       string
	Timeout    time.Duration
}

type report struct {
	Username    string
	Role        string
	Permissions []auth.Permission
}

func main() {
	flags := pflag.NewFlagSet("smoke-authz", pflag.ContinueOnError)
	var (
		baseURL   = flags.String("http", envOr("TALLYBOOK_HTTP_URL", "http://localhost:8080"), "HTTP base URL")
		target    = flags.String("grpc", envOr("TALLYBOOK_GRPC_TARGET", "localhost:9090"), "gRPC target")
		username  = flags.String("user", "admin", "username to log in as")
		password  = flags.String("password", os.Getenv("TALLYBOOK_ADMIN_PASSWORD"), "password")
		allowed   = flags.String("allowed", "EXPENSE:APPROVE", "permission the user must hold")
		forbidden = flags.String("forbidden", "EXPENSE:DELETE", "permission the user must not hold")
		role      = flags.String("role", "ADMIN", "role whose permissions are listed")
		timeout   = flags.Duration("timeout", 5*time.Second, "overall timeout")
	)
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	logger := obs.SetupLogger(obs.EnvLocal)

	cfg := smokeConfig{
		BaseURL:    *baseURL,
		GRPCTarget: *target,
		Username:   *username,
		Password:   *password,
		Role:       *role,
		Timeout:    *timeout,
	}
	var err error
	if cfg.Allowed, err = parsePermission(*allowed); err == nil {
		cfg.Forbidden, err = parsePermission(*forbidden)
	}
	if err != nil {
		logger.Error("bad flag", "error", err)
		os.Exit(2)
	}

	rep, err := run(context.Background(), cfg, http.DefaultClient)
	if err != nil {
		logger.Error("smoke test failed", "error", err)
		os.Exit(1)
	}
	logger.Info("smoke test passed",
		"username", rep.Username,
		"role", rep.Role,
		"role_permissions", len(rep.Permissions),
	)
}

func run(parent context.Context, cfg smokeConfig, httpc *http.Client) (report, error) {
	ctx, cancel := remote.WithTimeout(parent, cfg.Timeout)
	defer cancel()

	token, err := login(ctx, httpc, cfg.BaseURL, cfg.Username, cfg.Password)
	if err != nil {
		return report{}, err
	}

	client, err := remote.Dial(cfg.GRPCTarget)
	if err != nil {
		return report{}, fmt.Errorf("dial %s: %w", cfg.GRPCTarget, err)
	}
	defer client.Close()

	decision, err := client.Check(ctx, token, cfg.Allowed.Resource, cfg.Allowed.Action)
	if err != nil {
		return report{}, fmt.Errorf("check %s: %w", cfg.Allowed, err)
	}
	if _, err := client.Check(ctx, token, cfg.Forbidden.Resource, cfg.Forbidden.Action); !errors.Is(err, auth.ErrForbidden) {
		return report{}, fmt.Errorf("check %s: expected forbidden, got %v", cfg.Forbidden, err)
	}
	perms, err := client.RolePermissions(ctx, token, cfg.Role)
	if err != nil {
		return report{}, fmt.Errorf("role permissions %s: %w", cfg.Role, err)
	}
	if !auth.NewPermissionSet(perms...).Has(cfg.Allowed) && strings.EqualFold(decision.Role, cfg.Role) {
		return report{}, fmt.Errorf("role %s does not list %s", cfg.Role, cfg.Allowed)
	}
	return report{Username: decision.Username, Role: decision.Role, Permissions: perms}, nil
}

func login(ctx context.Context, httpc *http.Client, baseURL, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: status %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("login: empty access token")
	}
	return out.AccessToken, nil
}

func parsePermission(s string) (auth.Permission, error) {
	resource, action, ok := strings.Cut(s, ":")
	p := auth.NewPermission(resource, action)
	if !ok || !p.Valid() {
		return auth.Permission{}, fmt.Errorf("permission %q must be RESOURCE:ACTION", s)
	}
	return p, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
