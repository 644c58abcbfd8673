package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"authgate.org/internal/auth"
	"authgate.org/internal/config"
	"authgate.org/internal/permission"
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "usage: authgate [flags]                      serve HTTP and gRPC")
	fmt.Fprintln(out, "       authgate [flags] keys issue [opts]    mint an API key")
	fmt.Fprintln(out, "       authgate [flags] keys revoke <id>     deactivate an API key")
	fmt.Fprintln(out, "       authgate [flags] users disable <email>")
	fmt.Fprintln(out, "       authgate [flags] users enable <email>")
	fmt.Fprintln(out)
	flag.PrintDefaults()
}

// runAdmin executes an operator command against the configured database.
func runAdmin(configPath, dotEnv string, args []string) error {
	if len(args) < 2 {
		flag.Usage()
		return errors.New("missing command")
	}
	cfg, err := config.NewLoader().WithFile(configPath).WithDotEnv(true, dotEnv).Load()
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return errors.New("operator commands need database.dsn or AUTHGATE_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	store := auth.NewPGStore(db)
	_, _, sessions, err := newAuth(cfg, store, permission.New(cfg))
	if err != nil {
		return err
	}

	switch args[0] + " " + args[1] {
	case "keys issue":
		return issueKey(ctx, cfg, store, sessions, args[2:])
	case "keys revoke":
		if len(args) != 3 {
			return errors.New("usage: authgate keys revoke <id>")
		}
		if err := sessions.RevokeAPIKey(ctx, args[2]); err != nil {
			return fmt.Errorf("revoke %s: %w", args[2], err)
		}
		fmt.Println("revoked", args[2])
		return nil
	case "users disable", "users enable":
		if len(args) != 3 {
			return fmt.Errorf("usage: authgate users %s <email>", args[1])
		}
		status := auth.UserStatusActive
		if args[1] == "disable" {
			status = auth.UserStatusDisabled
		}
		u, err := store.Users(ctx).FindByEmail(ctx, args[2])
		if err != nil {
			return fmt.Errorf("find %s: %w", args[2], err)
		}
		n, err := sessions.SetUserStatus(ctx, u.ID, status)
		if err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		fmt.Printf("%s %s (%d sessions revoked)\n", u.Email, status, n)
		return nil
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0]+" "+args[1])
	}
}

func issueKey(ctx context.Context, cfg *config.Config, store auth.Store, sessions *auth.Service, args []string) error {
	fs := flag.NewFlagSet("keys issue", flag.ContinueOnError)
	var (
		owner  = fs.String("owner", "", "Owner email")
		role   = fs.String("role", "service", "Role granted to the key")
		tenant = fs.String("tenant", "", "Tenant id; defaults to the owner's tenant")
		label  = fs.String("label", "", "Display label")
		ttl    = fs.Duration("ttl", 0, "Key lifetime; 0 never expires")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" {
		return errors.New("keys issue: -owner is required")
	}
	if _, ok := cfg.Roles[*role]; !ok {
		return fmt.Errorf("keys issue: role %q is not configured", *role)
	}
	u, err := store.Users(ctx).FindByEmail(ctx, *owner)
	if err != nil {
		return fmt.Errorf("find %s: %w", *owner, err)
	}
	req := auth.APIKeyRequest{OwnerID: u.ID, Role: *role, TenantID: *tenant, Label: *label}
	if req.TenantID == "" {
		req.TenantID = u.TenantID
	}
	if *ttl > 0 {
		at := time.Now().UTC().Add(*ttl)
		req.ExpiresAt = &at
	}
	raw, key, err := sessions.IssueAPIKey(ctx, req)
	if err != nil {
		return fmt.Errorf("issue key: %w", err)
	}
	fmt.Fprintln(os.Stderr, "store this key now; it cannot be shown again")
	fmt.Printf("id:  %s\nkey: %s\n", key.ID, raw)
	return nil
}
