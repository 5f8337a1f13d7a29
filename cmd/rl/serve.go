package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"reviewline/internal/app"
	"reviewline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:     viper.GetString("jwt_secret"),
				AllowDevLogin: devLogin,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("REVIEWLINE_JWT_SECRET is required for bearer auth")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				logger := rt.Logger.Named("http")
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Logger:   logger,
				})
				if err != nil {
					return err
				}
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				server.StartWebhooks(ctx, rt.Engine.Repo, rt.Config, rt.Logger.Named("webhooks"))

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer scancel()
					_ = srv.Shutdown(sctx)
				}()
				logger.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath), zap.Bool("dev_login", devLogin))
				fmt.Printf("Serving Reviewline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login (local use only)")
	return cmd
}
