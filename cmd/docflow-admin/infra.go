package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/docflow/config"
	"github.com/target/docflow/internal/bootstrap"
	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/data"
	"github.com/target/docflow/internal/service"
)

// adminDeps is what job commands operate on.
type adminDeps struct {
	Store *bootstrap.Store
	Jobs  *service.JobService
	Blobs core.BlobStore
}

// withStore opens the configured job store for the duration of f. Ctrl-C cancels.
func withStore(cmdCtx *commandContext, timeout time.Duration, f func(context.Context, *bootstrap.Store) error) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	store, err := bootstrap.OpenStore(ctx, bootstrap.DatabaseConfig{DBConfig: cmdCtx.Config.DB, Logger: cmdCtx.Logger})
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			cmdCtx.Logger.Warn("job store close failed", "error", cerr)
		}
	}()

	return f(ctx, store)
}

// withJobs additionally wires the blob store and, when Redis answers, the ready
// publisher so a reset job wakes running workers.
func withJobs(cmdCtx *commandContext, timeout time.Duration, f func(context.Context, adminDeps) error) error {
	return withStore(cmdCtx, timeout, func(ctx context.Context, store *bootstrap.Store) error {
		blobs := bootstrap.BuildBlobStore(ctx, cmdCtx.Config.Blob, cmdCtx.Logger)

		var publisher core.ReadyPublisher
		if client := maybeConnectRedis(cmdCtx); client != nil {
			defer func() {
				if cerr := client.Close(); cerr != nil {
					cmdCtx.Logger.Warn("redis close failed", "error", cerr)
				}
			}()
			publisher = data.NewRedisRepo(data.RedisRepoOptions{Client: client})
		}

		jobs, err := service.NewJobService(service.JobServiceOptions{
			Repo:        store.Jobs,
			Blobs:       blobs,
			Publisher:   publisher,
			StagingRoot: cmdCtx.Config.Worker.StagingRoot,
			Logger:      cmdCtx.Logger,
		})
		if err != nil {
			return fmt.Errorf("create job service: %w", err)
		}
		return f(ctx, adminDeps{Store: store, Jobs: jobs, Blobs: blobs})
	})
}

// maybeConnectRedis returns a connected client, or nil when Redis is not configured or
// unreachable.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func maybeConnectRedis(cmdCtx *commandContext) redis.UniversalClient {
	if !cmdCtx.Config.Redis.Enabled() {
		return nil
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cmdCtx.Config.Redis, Logger: cmdCtx.Logger})
	if err != nil {
		cmdCtx.Logger.Info("redis unavailable; workers will pick up changes on their next poll", "error", err)
		return nil
	}
	return client
}

// guardRemoteHost refuses destructive commands against a Postgres host that does not
// look local unless allow is set, and then asks the operator to type the host name.
func guardRemoteHost(cfg config.DBConfig, allow bool, action string) error {
	if cfg.Driver != config.DBDriverPostgres || !isLikelyRemoteHost(cfg.Host) {
		return nil
	}
	if !allow {
		return fmt.Errorf(
			"refusing to run against potentially remote database host %q; re-run with --allow-remote if this is intentional",
			cfg.Host,
		)
	}
	return requireRemoteHostConfirmation(action, cfg.Host)
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return false
	}
	if h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return false
	}
	if strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

func requireRemoteHostConfirmation(action, host string) error {
	if err := writef(
		os.Stderr,
		"\nWARNING: database host %q does not look like a local address.\n"+
			"This operation will %s.\n",
		host,
		action,
	); err != nil {
		return fmt.Errorf("print remote host warning: %w", err)
	}
	if err := writef(os.Stderr, "Type %q to continue or press enter to abort: ", host); err != nil {
		return fmt.Errorf("print remote host prompt: %w", err)
	}
	resp, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil || strings.TrimSpace(resp) != host {
		if writeErr := writeln(os.Stderr, "\nRemote safeguard check failed; aborting."); writeErr != nil {
			return fmt.Errorf("print remote safeguard failure: %w", writeErr)
		}
		return errors.New("aborted by user")
	}
	return nil
}

// confirmAction asks for y/N unless yes is set.
func confirmAction(yes bool, action, target string) error {
	if yes {
		return nil
	}
	if err := writef(os.Stdout, "About to %s for %s.\n", action, target); err != nil {
		return fmt.Errorf("print confirmation message: %w", err)
	}
	if err := write(os.Stdout, "Continue? [y/N]: "); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	resp, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return errors.New("aborted by user")
	}
	resp = strings.ToLower(strings.TrimSpace(resp))
	if resp == "y" || resp == "yes" {
		return nil
	}
	return errors.New("aborted by user")
}
