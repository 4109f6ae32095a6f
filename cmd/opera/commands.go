package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/opera-os/opera/internal/config"
	"github.com/opera-os/opera/internal/orchestrator"
	"github.com/opera-os/opera/internal/security"
	"github.com/opera-os/opera/internal/tools"
)

// parsePermList splits a comma separated permission list. An empty string
// yields nil, meaning "use the defaults".
func parsePermList(s string) ([]tools.Permission, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return tools.ParsePermissions(strings.Split(s, ","))
}

// runOnce runs the whole pipeline for one request and prints the RunResult.
func runOnce(cfg *config.Config, args []string, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	perms := fs.String("perms", "", "comma separated permissions (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	input := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(input) == "" {
		return errors.New(`run needs the request text, e.g. opera run "Remember that ..."`)
	}
	allowed, err := parsePermList(*perms)
	if err != nil {
		return err
	}
	if allowed == nil {
		allowed = cfg.DefaultPermissions()
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	app, err := setup(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Orchestrator.Run(ctx, orchestrator.RunRequest{
		Input:       input,
		Context:     map[string]any{"source": "cli"},
		Permissions: allowed,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// listTools prints the catalog as a table.
func listTools(cfg *config.Config, out io.Writer, logger *slog.Logger) error {
	app, err := setup(context.Background(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer app.Close()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPERMISSIONS\tDESCRIPTION")
	for _, s := range app.Orchestrator.Describe() {
		perms := make([]string, len(s.Permissions))
		for i, p := range s.Permissions {
			perms[i] = string(p)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, strings.Join(perms, ","), s.Description)
	}
	return tw.Flush()
}

// mintToken signs an API token with the configured secret.
func mintToken(cfg *config.Config, args []string, out, errOut io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(errOut)
	role := fs.String("role", security.RoleOperator, "one of "+strings.Join(security.ValidRoles, ", "))
	subject := fs.String("sub", "cli", "token subject")
	perms := fs.String("perms", "", "comma separated permissions (default: the role's)")
	ttl := fs.Duration("ttl", 0, "lifetime (default auth.tokenTtlMinutes)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is not configured (set it or OPERA_JWT_SECRET)")
	}
	granted, err := parsePermList(*perms)
	if err != nil {
		return err
	}
	expiry := *ttl
	if expiry <= 0 {
		expiry = time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
	}
	if expiry <= 0 {
		expiry = time.Hour
	}

	token, err := security.GenerateToken(*subject, *role, granted, []byte(cfg.Auth.JWTSecret), expiry)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
