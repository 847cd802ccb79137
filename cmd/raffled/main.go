// Command raffled runs the raffle service: the raffle state machine, its
// VRF coordinator, the keeper and the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/raffle_layer/internal/app"
	"github.com/R3E-Network/raffle_layer/internal/app/httpapi"
	"github.com/R3E-Network/raffle_layer/internal/config"
	"github.com/R3E-Network/raffle_layer/internal/middleware"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before environment overrides")
	issueToken := flag.String("issue-token", "", "print a signed token for the given role (operator, oracle or player) and exit")
	subject := flag.String("subject", "", "subject of the issued token; the coordinator address for oracle tokens, the player address for player tokens")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the issued token")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging).Named("raffled")

	if *issueToken != "" {
		if err := printToken(cfg, log, *issueToken, *subject, *tokenTTL); err != nil {
			log.WithError(err).Fatal("issue token")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log.Named("app"))
	if err != nil {
		log.WithError(err).Fatal("build application")
	}
	server := httpapi.NewServer(cfg.Server, httpapi.NewHandler(application, log.Named("http")), log.Named("http"))
	if err := application.Attach(server); err != nil {
		log.WithError(err).Fatal("attach http server")
	}

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}
	log.WithField("round", application.Machine.Round()).
		WithField("entrance_fee", application.Machine.EntranceFee().Dec()).
		WithField("interval", application.Machine.Interval().String()).
		Info("raffle service started")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
		os.Exit(1)
	}
	log.Info("raffle service stopped")
}

func printToken(cfg *config.Config, log *logger.Logger, role, subject string, ttl time.Duration) error {
	switch role {
	case middleware.RoleOperator:
		if subject == "" {
			subject = "operator"
		}
	case middleware.RoleOracle:
		if subject == "" {
			subject = cfg.VRF.CoordinatorAddress
		}
	case middleware.RolePlayer:
		if !common.IsHexAddress(subject) {
			return fmt.Errorf("player tokens need -subject set to the player address")
		}
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	token, err := middleware.NewJWTAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer, log).Issue(subject, role, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
