package cmd

import (
	"context"
	"errors"
	"fmt"
	"hlsrecd/internal/api"
	"hlsrecd/internal/cache"
	"hlsrecd/internal/hls"
	"hlsrecd/internal/live"
	"hlsrecd/internal/models"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var recordSelect string

var recordCmd = &cobra.Command{
	Use:   "record <url|file>",
	Short: "Follow a live playlist and record its segment list",
	Long: `Follow the media playlists of a live source, emitting only new segments
on every reload. The accumulated playlist of every rendition is written to
the output directory after each change and finalized when recording stops.

Recording stops on interrupt, when every playlist ends or when the record
limit is reached.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().Duration("wait-time", 0, "fixed delay between reloads (default derived from the playlist)")
	recordCmd.Flags().Duration("record-limit", 0, "stop after this much media per stream (0 for no limit)")
	recordCmd.Flags().Int("take-count", 15, "number of segments to start from after synchronization")
	recordCmd.Flags().String("output-dir", ".", "directory for recorded playlists")
	recordCmd.Flags().String("listen", "", "serve the status API on this address")
	recordCmd.Flags().StringVar(&recordSelect, "select", "", "comma separated stream indices to record (default all)")

	mustBindPFlag("live.wait_time", recordCmd.Flags().Lookup("wait-time"))
	mustBindPFlag("live.record_limit", recordCmd.Flags().Lookup("record-limit"))
	mustBindPFlag("live.take_count", recordCmd.Flags().Lookup("take-count"))
	mustBindPFlag("live.output_dir", recordCmd.Flags().Lookup("output-dir"))
	mustBindPFlag("server.listen", recordCmd.Flags().Lookup("listen"))
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ext, text, err := openSource(ctx, args[0])
	if err != nil {
		return err
	}

	var rec *live.Recorder
	mc := cache.New(log, func() map[string]struct{} { return rec.ActiveURLs() }, cfg.Cache.EvictionInterval, cfg.Cache.MaxAge)
	ext.WithCache(mc)

	specs, err := ext.ExtractStreams(ctx, text)
	if err != nil {
		return err
	}
	if ext.IsMaster() {
		if specs, err = selectStreams(specs, recordSelect); err != nil {
			return err
		}
		if err := ext.FetchPlaylists(ctx, specs); err != nil {
			return err
		}
	}
	if len(specs) == 0 {
		return errors.New("no streams to record")
	}
	for i, s := range specs {
		log.Infof("[%d] %s", i, s)
	}

	if err := os.MkdirAll(cfg.Live.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	rec = live.NewRecorder(specs, ext, live.Options{
		WaitTime:    cfg.Live.WaitTime,
		RecordLimit: cfg.Live.RecordLimit,
		TakeCount:   cfg.Live.TakeCount,
	}, log)
	mc.Start()
	defer mc.Stop()

	var server *http.Server
	if cfg.Server.Enabled || cmd.Flags().Changed("listen") {
		server = &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           api.New(rec, mc, cfg.Server.RequestsPerMinute, log),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Infof("Status API listening on %s", cfg.Server.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Could not listen on %s: %v", cfg.Server.Listen, err)
			}
		}()
	}

	var g errgroup.Group
	for i := range specs {
		g.Go(func() error {
			for d := range rec.Deltas(i) {
				log.Infof("[%d] +%d segments, next reload in %v", d.Stream, len(d.Segments), d.NextPoll)
				if err := writePlaylist(rec, i); err != nil {
					log.Warnf("%v", err)
				}
			}
			return nil
		})
	}

	runErr := rec.Run(ctx)
	g.Wait()

	for i := range specs {
		if err := writePlaylist(rec, i); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	for _, s := range rec.Snapshot().Streams {
		log.Infof("[%d] recorded %d segments, %ds, %d resets", s.Index, s.Segments, s.RefreshedSeconds, s.Resets)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Server shutdown failed: %v", err)
		}
	}
	return runErr
}

func writePlaylist(rec *live.Recorder, i int) error {
	m, ok := rec.Playlist(i)
	if !ok {
		return fmt.Errorf("stream %d not found", i)
	}
	return writeFileAtomic(filepath.Join(cfg.Live.OutputDir, fmt.Sprintf("stream_%d.m3u8", i)), hls.WriteMedia(m))
}

// writeFileAtomic replaces path so readers never see a partial playlist.
func writeFileAtomic(path, text string) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("failed to create pending file for %s: %w", path, err)
	}
	defer pending.Cleanup()

	if _, err := pending.WriteString(text); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// selectStreams keeps the streams at the given comma separated indices, in
// the order given. An empty selection keeps everything.
func selectStreams(specs []*models.StreamSpec, selection string) ([]*models.StreamSpec, error) {
	if strings.TrimSpace(selection) == "" {
		return specs, nil
	}
	var out []*models.StreamSpec
	for _, field := range strings.Split(selection, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || i < 0 || i >= len(specs) {
			return nil, fmt.Errorf("invalid stream index %q (have %d streams)", field, len(specs))
		}
		out = append(out, specs[i])
	}
	return out, nil
}
