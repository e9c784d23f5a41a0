package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"fieldsync/internal/engine"
	"fieldsync/internal/fieldops"
	"fieldsync/internal/queue"
	"fieldsync/internal/remote"
	"fieldsync/internal/status"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track connectivity and sync the queue until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.cfg.RequireRemote(); err != nil {
			return err
		}

		ctx, cancel := signalContext(e.log)
		defer cancel()

		e.log.Info("Starting offline sync",
			zap.String("store", e.cfg.Store.Path),
			zap.String("remote", e.cfg.Remote.BaseURL),
			zap.String("connectivity", e.cfg.Connectivity.Mode),
			zap.Duration("interval", e.cfg.Sync.Interval),
			zap.Bool("dry_run", e.cfg.Remote.DryRun),
		)

		e.syncer.Initialize(ctx)

		var display *status.Display
		if e.cfg.Sync.ShowStatus && status.IsTerminalSupported() {
			display = status.NewDisplay(e.syncer.Reporter(), e.syncer.Tally(), e.cfg.Sync.StatusInterval)
			display.Start(ctx)
			e.log.Info("Status display enabled")
		}

		<-ctx.Done()

		if display != nil {
			display.Stop()
		}
		e.log.Info("Offline sync stopped")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show last sync time, pending and failed counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		st, err := e.syncer.SyncStatus(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), st)
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(status.Lines(st, time.Now()), "\n"))
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the queue once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.cfg.RequireRemote(); err != nil {
			return err
		}

		ctx, cancel := signalContext(e.log)
		defer cancel()

		res, err := e.syncer.ForceSync(ctx)
		if errors.Is(err, engine.ErrOffline) {
			fmt.Fprintln(cmd.OutOrStdout(), "offline: nothing sent")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "processed %d: %d synced, %d retried, %d dropped (%s)\n",
			res.Processed, res.Succeeded, res.Retried, res.Dropped, res.Duration)
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <action> <json-payload>",
	Short: "Queue a raw mutation (task_update, location_update, photo_upload, task_completion)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := queue.ParseAction(args[0])
		if err != nil {
			return err
		}
		payload := json.RawMessage(args[1])
		if !json.Valid(payload) {
			return fmt.Errorf("payload is not valid JSON")
		}

		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		var opts []queue.Option
		if key, _ := cmd.Flags().GetString("cache-key"); key != "" {
			opts = append(opts, queue.WithCacheKey(key))
		}
		rec, err := e.syncer.Enqueue(cmd.Context(), action, payload, opts...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Read and write cached entity snapshots",
}

var snapshotPutCmd = &cobra.Command{
	Use:   "put <key> <json>",
	Short: "Cache a snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data := json.RawMessage(args[1])
		if !json.Valid(data) {
			return fmt.Errorf("snapshot is not valid JSON")
		}

		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		return e.syncer.StoreSnapshot(cmd.Context(), args[0], data)
	},
}

var snapshotGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a cached snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		entry, err := e.syncer.FetchSnapshot(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("no snapshot for %q", args[0])
		}
		return printJSON(cmd.OutOrStdout(), entry)
	},
}

var photoCmd = &cobra.Command{
	Use:   "photo",
	Short: "Manage photos captured for a task",
}

var photoAddCmd = &cobra.Command{
	Use:   "add <task-id> <uri>",
	Short: "Store a photo locally and queue its upload",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		return fieldops.NewService(e.syncer, e.log, nil).AddPhoto(cmd.Context(), args[0], args[1])
	},
}

var photoListCmd = &cobra.Command{
	Use:   "list <task-id>",
	Short: "List photos stored for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		photos, err := e.syncer.FetchPendingPhotos(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), photos)
	},
}

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "Inspect mutations that exhausted their retries",
}

var failedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered mutations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		failed, err := e.syncer.FailedMutations(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), failed)
		}
		printFailed(cmd.OutOrStdout(), failed)
		return nil
	},
}

var failedRetryCmd = &cobra.Command{
	Use:   "retry [id]",
	Short: "Move a dead-lettered mutation (or all of them) back into the queue",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		moved, err := e.syncer.RetryFailed(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "requeued %d\n", moved)
		return nil
	},
}

var failedPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Discard every dead-lettered mutation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		return e.syncer.PurgeFailed(cmd.Context())
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe queue, dead letters, snapshots, photos and last sync time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		return e.syncer.ClearAll(cmd.Context())
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Sign the field worker in or out",
}

var workerLoginCmd = &cobra.Command{
	Use:   "login <worker-id>",
	Short: "Store the worker profile locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		name, _ := cmd.Flags().GetString("name")
		department, _ := cmd.Flags().GetString("department")
		return fieldops.NewService(e.syncer, e.log, nil).Login(cmd.Context(), fieldops.Worker{
			ID:         args[0],
			Name:       name,
			Department: department,
		})
	},
}

var workerLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and wipe all offline data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		return fieldops.NewService(e.syncer, e.log, nil).Logout(cmd.Context())
	},
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Work on assigned tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached assigned tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		tasks, err := fieldops.NewService(e.syncer, e.log, nil).AssignedTasks(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), tasks)
	},
}

var taskLoadCmd = &cobra.Command{
	Use:   "load <file.json>",
	Short: "Replace the cached assignment list from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var tasks []fieldops.Task
		if err := json.Unmarshal(data, &tasks); err != nil {
			return fmt.Errorf("failed to parse tasks: %w", err)
		}

		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		return fieldops.NewService(e.syncer, e.log, nil).StoreTasks(cmd.Context(), tasks)
	},
}

var taskAcceptCmd = &cobra.Command{
	Use:   "accept <task-id>",
	Short: "Accept an assigned task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		task, err := fieldops.NewService(e.syncer, e.log, nil).AcceptTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), task)
	},
}

var taskStartCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Mark a task in progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		task, err := fieldops.NewService(e.syncer, e.log, nil).StartTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), task)
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Complete a task with notes and photos",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		notes, _ := cmd.Flags().GetString("notes")
		photos, _ := cmd.Flags().GetStringArray("photo")
		task, err := fieldops.NewService(e.syncer, e.log, nil).CompleteTask(cmd.Context(), args[0], fieldops.Completion{
			Notes:  notes,
			Photos: photos,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), task)
	},
}

var dutyCmd = &cobra.Command{
	Use:       "duty <on|off>",
	Short:     "Go on or off duty",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		return fieldops.NewService(e.syncer, e.log, nil).SetDuty(cmd.Context(), args[0] == "on")
	},
}

var locateCmd = &cobra.Command{
	Use:   "locate <lat> <lng>",
	Short: "Record the worker's current position",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid latitude: %w", err)
		}
		lng, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid longitude: %w", err)
		}

		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		return fieldops.NewService(e.syncer, e.log, nil).UpdateLocation(cmd.Context(), remote.Location{Lat: lat, Lng: lng})
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "Print status as JSON")
	failedListCmd.Flags().Bool("json", false, "Print records as JSON")
	enqueueCmd.Flags().String("cache-key", "", "Snapshot key this mutation settles")

	snapshotCmd.AddCommand(snapshotPutCmd, snapshotGetCmd)
	photoCmd.AddCommand(photoAddCmd, photoListCmd)
	failedCmd.AddCommand(failedListCmd, failedRetryCmd, failedPurgeCmd)

	workerLoginCmd.Flags().String("name", "", "Worker display name")
	workerLoginCmd.Flags().String("department", "", "driver, segregator or supervisor")
	workerCmd.AddCommand(workerLoginCmd, workerLogoutCmd)

	taskCompleteCmd.Flags().String("notes", "", "Completion notes")
	taskCompleteCmd.Flags().StringArray("photo", nil, "Photo path (repeatable)")
	taskCmd.AddCommand(taskListCmd, taskLoadCmd, taskAcceptCmd, taskStartCmd, taskCompleteCmd)
}

// printFailed writes one line per dead letter, oldest enqueue first
func printFailed(w io.Writer, records []queue.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No failed mutations")
		return
	}
	for _, rec := range records {
		fmt.Fprintf(w, "%s  %-16s  enqueued %s  attempts %d  %s\n",
			rec.ID,
			rec.Action,
			rec.EnqueuedTime().UTC().Format(time.RFC3339),
			rec.RetryCount,
			rec.LastError,
		)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
