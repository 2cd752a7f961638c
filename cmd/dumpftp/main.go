// dumpftp mirrors a remote FTP, FTPS or SFTP tree into a local directory or
// an S3 bucket.
//
// Features:
// - Recursive depth-first mirror over one session
// - Duplicate directory detection (identical listings are copied, not downloaded)
// - Shell-pattern file filter
// - git blob SHA-1 of every downloaded file
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/dumpftp/dumpftp/internal/config"
	"github.com/dumpftp/dumpftp/internal/dumper"
	"github.com/dumpftp/dumpftp/internal/logging"
	"github.com/dumpftp/dumpftp/internal/metrics"
	"github.com/dumpftp/dumpftp/internal/progress"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	cfg, err := config.Parse("dumpftp", args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		fmt.Fprintf(stderr, "logging init error: %v\n", err)
		return exitFailure
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithRunID(ctx, logging.NewRunID())
	log := logging.WithContext(ctx)

	if cfg.Password == config.PromptPassword {
		pw, err := promptPassword(stderr)
		if err != nil {
			log.Error("read password", zap.Error(err))
			return exitFailure
		}
		cfg.Password = pw
	}

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
		defer metricsServer.Close()
	}

	target, err := openTarget(ctx, cfg)
	if err != nil {
		log.Error("open target", zap.String("target", cfg.Target), zap.Error(err))
		return exitFailure
	}
	defer target.Close()

	session, err := dial(ctx, cfg)
	if err != nil {
		log.Error("connect", zap.String("addr", cfg.Addr()), zap.Error(err))
		return exitFailure
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Debug("close session", zap.Error(err))
		}
	}()
	log.Info("logged in",
		zap.String("addr", cfg.Addr()),
		zap.String("protocol", cfg.Protocol),
		zap.String("user", cfg.User),
		zap.Bool("tls", cfg.TLS),
	)

	sink, err := progress.Select(cfg.Progress, stdout)
	if err != nil {
		log.Error("progress", zap.Error(err))
		return exitFailure
	}

	d := dumper.New(session, target, sink, dumper.Options{
		Filter:           cfg.Filter,
		CreateEmptyDirs:  cfg.CreateEmptyDirs,
		DetectDuplicates: cfg.DetectDuplicates,
		SizePolicy:       cfg.SizePolicy,
	})

	start := time.Now()
	runErr := d.Run(ctx, "")
	st := d.Stats()
	fields := []zap.Field{
		zap.Int("directories", st.Directories),
		zap.Int("downloads", st.Downloads),
		zap.Int("copies", st.Copies),
		zap.Int("filtered", st.Filtered),
		zap.Int("denied", st.DirsDenied+st.FilesDenied),
		zap.Uint64("bytes_downloaded", st.BytesDownloaded),
		zap.Uint64("bytes_copied", st.BytesCopied),
		zap.Duration("elapsed", time.Since(start)),
	}
	if runErr != nil {
		log.Error("mirror failed", append(fields, zap.Error(runErr))...)
		return exitFailure
	}
	log.Info("mirror complete", fields...)
	return exitOK
}

func promptPassword(out *os.File) (string, error) {
	fmt.Fprint(out, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
