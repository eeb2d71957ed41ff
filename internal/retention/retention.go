package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/blob"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/state"
	"chatsync/pkg/store"
)

var storedEff *config.EffectiveConfigResult

// SetEffectiveConfig stores the effective config so tests (or admin triggers)
// can invoke retention runs on-demand.
func SetEffectiveConfig(eff config.EffectiveConfigResult) {
	storedEff = &eff
}

// RunImmediate triggers a single retention run using the stored effective
// config. Returns an error if no effective config was registered.
func RunImmediate() error {
	if storedEff == nil {
		return fmt.Errorf("no effective config registered for retention run")
	}
	return runOnce(context.Background(), *storedEff, markerDir(*storedEff))
}

// markerDir resolves where the last_run marker lives: the state dir layout
// when EnsureStateDirs ran, the artifact root when one is configured (tests,
// CI), and a path under the DB dir otherwise.
func markerDir(eff config.EffectiveConfigResult) string {
	if p := state.PathsVar.Retention; p != "" {
		return p
	}
	if p := state.ArtifactPath("retention"); p != "" {
		return p
	}
	return filepath.Join(eff.DBPath, "state", "retention")
}

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, eff config.EffectiveConfigResult) (context.CancelFunc, error) {
	ret := eff.Config.Retention

	// if retention is not enabled, return no-op cancel
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	retentionPath := markerDir(eff)
	if err := os.MkdirAll(retentionPath, 0o700); err != nil {
		logger.Error("retention_path_create_failed", "path", retentionPath, "error", err)
		return nil, err
	}

	// map empty cron to default daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", ret.Period, "path", retentionPath)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, eff, retentionPath, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, eff config.EffectiveConfigResult, retentionPath, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := runOnce(ctx, eff, retentionPath); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// runOnce purges soft-deleted messages older than the configured period and
// sweeps blob files no message references anymore. A marker file in the
// retention path records the last completed run.
func runOnce(ctx context.Context, eff config.EffectiveConfigResult, retentionPath string) error {
	ret := eff.Config.Retention

	period, err := time.ParseDuration(ret.Period)
	if ret.Period != "" && err != nil {
		return fmt.Errorf("invalid retention period %q: %w", ret.Period, err)
	}

	started := time.Now().UTC()
	purged := 0
	if period > 0 {
		cutoff := started.Add(-period).UnixNano()
		purged, err = store.PurgeDeletedBefore(cutoff, ret.BatchSize, ret.DryRun)
		if err != nil {
			return err
		}
	}

	removedBlobs, err := sweepOrphanBlobs(started, period, ret.DryRun)
	if err != nil {
		logger.Error("retention_blob_sweep_failed", "error", err)
	}

	logger.Info("retention_run_complete",
		"purged_messages", purged,
		"removed_blobs", removedBlobs,
		"dry_run", ret.DryRun,
		"took", time.Since(started).String(),
	)

	marker := filepath.Join(retentionPath, "last_run")
	_ = os.WriteFile(marker, []byte(started.Format(time.RFC3339)+"\n"), 0o600)
	return ctx.Err()
}

// sweepOrphanBlobs removes stored attachments that no message row references.
// Files younger than the grace window stay: an upload may not have been
// attached to a message yet.
func sweepOrphanBlobs(now time.Time, grace time.Duration, dryRun bool) (int, error) {
	if !blob.Ready() {
		return 0, nil
	}
	if grace <= 0 {
		grace = 24 * time.Hour
	}
	referenced, err := store.ReferencedBlobPaths()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, bucket := range []string{blob.BucketImages, blob.BucketAudio} {
		files, err := blob.List(bucket)
		if err != nil {
			return removed, err
		}
		for path, mod := range files {
			if _, ok := referenced[path]; ok {
				continue
			}
			if now.Sub(mod) < grace {
				continue
			}
			if dryRun {
				logger.Info("retention_blob_orphan", "path", path, "dry_run", true)
				removed++
				continue
			}
			if err := blob.Remove(path); err != nil {
				logger.Warn("retention_blob_remove_failed", "path", path, "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
