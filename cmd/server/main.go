package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gbpufscar/revfirst-social-sub001/internal/config"
	"github.com/gbpufscar/revfirst-social-sub001/internal/models"
	"github.com/gbpufscar/revfirst-social-sub001/internal/server"
	"github.com/gbpufscar/revfirst-social-sub001/internal/service"
	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
	"github.com/gbpufscar/revfirst-social-sub001/pkg/logger"
)

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "revfirst",
	Short: "RevFirst - Editorial scheduling and idempotent publish executor",
	Long:  `RevFirst queues editorial content for review, schedules approved items into daily publish windows, and executes them exactly once per idempotency key.`,
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("RevFirst %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

var (
	workspaceName string
	workspacePlan string
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage workspaces",
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a workspace with default control settings",
	RunE:  runWorkspaceCreate,
}

var (
	tokenWorkspaceID string
	tokenUserID      string
	tokenRole        string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a workspace access token",
	RunE:  runToken,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")
	rootCmd.AddCommand(versionCmd)

	workspaceCreateCmd.Flags().StringVar(&workspaceName, "name", "", "workspace name (required)")
	workspaceCreateCmd.Flags().StringVar(&workspacePlan, "plan", "free", "subscription plan")
	workspaceCreateCmd.MarkFlagRequired("name")
	workspaceCmd.AddCommand(workspaceCreateCmd)
	rootCmd.AddCommand(workspaceCmd)

	tokenCmd.Flags().StringVar(&tokenWorkspaceID, "workspace-id", "", "workspace id (required)")
	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "", "acting user id")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "admin", "role claim")
	tokenCmd.MarkFlagRequired("workspace-id")
	rootCmd.AddCommand(tokenCmd)
}

func runServer(*cobra.Command, []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting RevFirst server", zap.String("version", version))

	// Create server
	srv, err := server.NewServer(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start server
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			appLogger.Error("Server failed to start", zap.Error(err))
			cancel()
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down server...")
	case <-ctx.Done():
		appLogger.Info("Server context cancelled")
	}

	// Graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	appLogger.Info("Server exited")
	return nil
}

func runWorkspaceCreate(*cobra.Command, []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	admin := store.NewGormStore(db)

	workspace := &models.Workspace{
		ID:                 uuid.NewString(),
		Name:               workspaceName,
		Plan:               workspacePlan,
		SubscriptionStatus: "active",
	}
	settings := &models.WorkspaceControlSettings{
		ID:              uuid.NewString(),
		WorkspaceID:     workspace.ID,
		ChannelsJSON:    "{}",
		OperationalMode: models.OperationalModeReview,
	}
	if err := admin.CreateWorkspace(context.Background(), workspace, settings); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	fmt.Printf("Workspace created\n")
	fmt.Printf("  id:   %s\n", workspace.ID)
	fmt.Printf("  name: %s\n", workspace.Name)
	fmt.Printf("  plan: %s\n", workspace.Plan)
	return nil
}

func runToken(*cobra.Command, []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	userID := tokenUserID
	if userID == "" {
		userID = uuid.NewString()
	}
	ttl := time.Duration(cfg.Auth.TokenExpMinutes) * time.Minute
	token, err := server.IssueWorkspaceToken(cfg.Auth.Secret, userID, tokenWorkspaceID, tokenRole, ttl)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
