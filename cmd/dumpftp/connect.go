package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dumpftp/dumpftp/internal/config"
	"github.com/dumpftp/dumpftp/internal/logging"
	"github.com/dumpftp/dumpftp/internal/remote"
	"github.com/dumpftp/dumpftp/internal/remote/ftp"
	"github.com/dumpftp/dumpftp/internal/remote/sftp"
	"github.com/dumpftp/dumpftp/internal/retry"
	"github.com/dumpftp/dumpftp/internal/storage"
	"github.com/dumpftp/dumpftp/internal/storage/local"
	"github.com/dumpftp/dumpftp/internal/storage/s3"
)

// dial opens the remote session, retrying network failures.
func dial(ctx context.Context, cfg *config.Config) (remote.Session, error) {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.Retries
	rc.OnRetry = func(attempt int, wait time.Duration, err error) {
		logging.WithContext(ctx).Warn("connect failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	return retry.Do(ctx, rc, func() (remote.Session, error) {
		if cfg.Protocol == "sftp" {
			s, err := sftp.Dial(ctx, sftp.Config{
				Addr:           cfg.Addr(),
				User:           cfg.User,
				Password:       cfg.Password,
				KnownHostsFile: cfg.KnownHosts,
				Insecure:       cfg.Insecure,
				Timeout:        cfg.Timeout,
			})
			if err != nil {
				if sftp.IsTransient(err) {
					return nil, retry.Retryable(err)
				}
				return nil, err
			}
			return s, nil
		}

		s, err := ftp.Dial(ctx, ftp.Config{
			Addr:     cfg.Addr(),
			User:     cfg.User,
			Password: cfg.Password,
			TLS:      cfg.TLS,
			Insecure: cfg.Insecure,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			if ftp.IsTransient(err) {
				return nil, retry.Retryable(err)
			}
			return nil, err
		}
		return s, nil
	})
}

// openTarget opens the backend named by -d.
func openTarget(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	t, err := storage.ParseTarget(cfg.Target)
	if err != nil {
		return nil, err
	}
	if t.Scheme == "s3" {
		b, err := s3.New(ctx, s3.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
			Bucket:       t.Bucket,
			Prefix:       t.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	b, err := local.New(t.Path)
	if err != nil {
		return nil, err
	}
	return b, nil
}
