package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docchat/internal/auth"
	"docchat/internal/config"
	"docchat/internal/redis"
	"docchat/internal/service/catalog"
)

// openCache connects to redis when enabled so CLI token changes reach the
// cache the server validates against.
func openCache(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	cache, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis client: %w", err)
	}
	return cache, func() { _ = cache.Close() }, nil
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(opts)
			if err != nil {
				return err
			}
			defer env.close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s database\n", opts.dbType)
			return nil
		},
	}
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage caller access tokens",
	}
	cmd.AddCommand(newTokenIssueCmd(opts))
	cmd.AddCommand(newTokenRevokeCmd(opts))
	return cmd
}

func newTokenIssueCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "issue <owner-id>",
		Short: "Issue an access token for a caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(opts)
			if err != nil {
				return err
			}
			defer env.close()
			if ttl <= 0 {
				ttl = time.Duration(env.cfg.Server.TokenTTLHours) * time.Hour
			}
			cache, closeCache, err := openCache(env.cfg)
			if err != nil {
				return err
			}
			defer closeCache()
			svc := auth.NewService(env.db, cache, ttl, env.log)
			token, err := svc.IssueToken(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to server.token_ttl_hours)")
	return cmd
}

func newTokenRevokeCmd(opts *rootOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "revoke [token]",
		Short: "Revoke one token, or every token of --owner",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (owner == "") {
				return errors.New("pass either a token or --owner")
			}
			env, err := setup(opts)
			if err != nil {
				return err
			}
			defer env.close()
			cache, closeCache, err := openCache(env.cfg)
			if err != nil {
				return err
			}
			defer closeCache()
			svc := auth.NewService(env.db, cache, 0, env.log)
			if owner != "" {
				if err := svc.RevokeOwnerTokens(cmd.Context(), owner); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked tokens of %s\n", owner)
				return nil
			}
			if err := svc.RevokeToken(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token revoked")
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "revoke every token issued to this owner")
	return cmd
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete uploaded files that no document references",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(opts)
			if err != nil {
				return err
			}
			defer env.close()
			if ttl <= 0 {
				ttl = time.Duration(env.cfg.Upload.OrphanTTLMinutes) * time.Minute
			}
			removed, err := catalog.NewService(env.db, env.log).SweepOrphans(cmd.Context(), env.cfg.Upload.Dir, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphan file(s) from %s\n", removed, env.cfg.Upload.Dir)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "older-than", 0, "minimum age of a removable file (defaults to upload.orphan_ttl_minutes)")
	return cmd
}
