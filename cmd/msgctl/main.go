package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"msgdash/backend/internal/auth/jwt"
	"msgdash/backend/internal/config"
	"msgdash/backend/internal/storage/postgres"
)

var tokenExpiry time.Duration

// rootCmd 运维命令入口，配置与服务端共用 MSGDASH_ 环境变量
var rootCmd = &cobra.Command{
	Use:           "msgctl",
	Short:         "msgdash administration tool",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// migrateCmd 迁移数据库表结构
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Create or update the messages, replies and link_sessions tables.

Uses MSGDASH_DATABASE_TYPE (postgres or mysql) and MSGDASH_DATABASE_DSN.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

// tokenCmd 为账号签发访问令牌
var tokenCmd = &cobra.Command{
	Use:   "token <owner-id>",
	Short: "Issue an access token for an owner",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenExpiry, "expiry", 0, "token lifetime, defaults to MSGDASH_AUTH_TOKEN_EXPIRY")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	opts := postgres.PoolOptions{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	var store *postgres.Store
	switch cfg.Database.Type {
	case "postgres":
		store, err = postgres.NewStore(cfg.Database.DSN, opts)
	case "mysql":
		store, err = postgres.NewMySQLStore(cfg.Database.DSN, opts)
	default:
		return errors.New("memory storage needs no migration, set MSGDASH_DATABASE_TYPE")
	}
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ 成功连接到 %s 数据库\n", cfg.Database.Type)

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(out, "✓ 迁移成功完成!")
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DemoMode() {
		return errors.New("MSGDASH_AUTH_JWT_SECRET is not set, the server runs in demo mode")
	}

	expiry := cfg.Auth.TokenExpiry
	if tokenExpiry > 0 {
		expiry = tokenExpiry
	}

	manager := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, expiry)
	token, err := manager.GenerateToken(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, token.AccessToken)
	fmt.Fprintf(out, "# expires at %s\n", token.ExpiresAt.Format(time.RFC3339))
	return nil
}
