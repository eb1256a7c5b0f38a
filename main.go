package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kwv/changemesh/overlay"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfg        *overlay.Config
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "changemesh",
	Short: "Polygon change detection between two layers",
	Long: "Overlays a before and an after polygon layer, classifies every intersection as changed or " +
		"unchanged for one attribute, and reports a sorted change matrix, area totals and a change map.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := overlay.LoadConfig(configFile)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := overlay.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// analyze flags
var (
	beforePath  string
	afterPath   string
	attribute   string
	outPath     string
	geojsonPath string
	svgPath     string
	pngPath     string
	publish     bool
	persist     bool
	changedOnly bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compare two polygon layers on one attribute",
	Example: `  changemesh analyze --before landuse-2015.shp --after landuse-2020.shp --attribute landuse
  changemesh analyze --before a.geojson --after b.geojson --attribute class --svg changes.svg --out result.json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runAnalyze(ctx, cmd.OutOrStdout())
	},
}

var attributesFile string

var attributesCmd = &cobra.Command{
	Use:   "attributes",
	Short: "List the attribute columns of a layer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		set, err := overlay.LoadPolygonSet(attributesFile)
		if err != nil {
			return err
		}
		return printAttributes(cmd.OutOrStdout(), set)
	},
}

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		return runServe(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	// no config needed
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "changemesh %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default ./changemesh.yaml)")

	f := analyzeCmd.Flags()
	f.StringVar(&beforePath, "before", "", "Before layer (.geojson, .json, .shp or .zip)")
	f.StringVar(&afterPath, "after", "", "After layer (.geojson, .json, .shp or .zip)")
	f.StringVar(&attribute, "attribute", "", "Attribute to compare (default from config)")
	f.StringVar(&outPath, "out", "", "Write the full result as JSON to this file")
	f.StringVar(&geojsonPath, "geojson", "", "Write change features as GeoJSON to this file")
	f.StringVar(&svgPath, "svg", "", "Render the change map as SVG to this file")
	f.StringVar(&pngPath, "png", "", "Render the change map as PNG to this file")
	f.BoolVar(&publish, "publish", false, "Publish the summary to MQTT")
	f.BoolVar(&persist, "store", false, "Persist the result to the SQLite store")
	f.BoolVar(&changedOnly, "changed-only", false, "Leave unchanged areas off the rendered map")
	_ = analyzeCmd.MarkFlagRequired("before")
	_ = analyzeCmd.MarkFlagRequired("after")

	attributesCmd.Flags().StringVar(&attributesFile, "file", "", "Layer to inspect")
	_ = attributesCmd.MarkFlagRequired("file")

	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (default from config)")

	rootCmd.AddCommand(analyzeCmd, attributesCmd, serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAnalyze(ctx context.Context, stdout io.Writer) error {
	log := zap.L().With(zap.String("command", "analyze"))

	before, err := overlay.LoadPolygonSet(beforePath)
	if err != nil {
		return err
	}
	after, err := overlay.LoadPolygonSet(afterPath)
	if err != nil {
		return err
	}

	app := NewApp(cfg)
	defer app.Close()
	if persist {
		if cfg.Store.SQLitePath == "" {
			return eris.New("analyze: --store needs store.sqlite_path in config")
		}
		if err := app.OpenStore(ctx); err != nil {
			return err
		}
	}
	if publish {
		if cfg.MQTT.Broker == "" {
			return eris.New("analyze: --publish needs mqtt.broker in config")
		}
		if err := app.ConnectPublisher(); err != nil {
			return err
		}
	}

	id, result, err := app.Analyze(ctx, before, after, attribute)
	if err != nil {
		if ie, ok := overlay.IsInputError(err); ok {
			log.Error("analysis rejected", zap.String("kind", string(ie.Kind)), zap.String("set", ie.Set))
		}
		return err
	}
	log.Info("analysis complete", zap.String("id", id))

	if outPath != "" {
		if err := writeFile(outPath, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(analysisResponse{ID: id, Result: result})
		}); err != nil {
			return err
		}
	}
	if geojsonPath != "" {
		if err := writeFile(geojsonPath, func(w io.Writer) error {
			return overlay.WriteChangeGeoJSON(w, result)
		}); err != nil {
			return err
		}
	}
	if svgPath != "" || pngPath != "" {
		renderer := overlay.NewMapRenderer(result, cfg.Render)
		renderer.ChangedOnly = changedOnly
		if svgPath != "" {
			if err := writeFile(svgPath, renderer.RenderToSVG); err != nil {
				return err
			}
		}
		if pngPath != "" {
			if err := writeFile(pngPath, renderer.RenderToPNG); err != nil {
				return err
			}
		}
	}

	return printSummary(stdout, id, result)
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "output: create %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		return eris.Wrapf(err, "output: write %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "output: close %s", path)
	}
	zap.L().Info("wrote output", zap.String("path", path))
	return nil
}

// printSummary writes the human-readable report: totals then the top ten
// transitions with their share of all changes.
func printSummary(w io.Writer, id string, r *overlay.AnalysisResult) error {
	s := r.Summarize(overlay.DefaultTopChanges, time.Now())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", id)
	fmt.Fprintf(tw, "Attribute:\t%s\n", s.Attribute)
	fmt.Fprintf(tw, "Total area:\t%s\n", s.TotalHectares)
	fmt.Fprintf(tw, "Changed:\t%s\t%s\n", s.ChangedHectares, overlay.FormatPercent(s.ChangePercentage))
	fmt.Fprintf(tw, "Unchanged:\t%s\t%s\n", s.UnchangedHectares, overlay.FormatPercent(s.UnchangedPercentage))
	if s.GeometryErrors > 0 {
		fmt.Fprintf(tw, "Skipped pairs:\t%d\n", s.GeometryErrors)
	}
	if len(s.TopChanges) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "#\tFrom\tTo\tArea\tCount\t% of changes")
		for _, t := range s.TopChanges {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
				t.Rank, t.From, t.To, t.Hectares, t.Count, overlay.FormatPercent(t.Share))
		}
	}
	return tw.Flush()
}

func printAttributes(w io.Writer, set overlay.PolygonSet) error {
	cols := overlay.AttributeColumns(set)
	if len(cols) == 0 {
		return eris.Errorf("attributes: %s has no attribute columns", set.Name)
	}
	counts := make(map[string]int, len(cols))
	for _, c := range cols {
		counts[c] = len(overlay.DistinctValues(set, c))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s: %d polygons\n", set.Name, set.Len())
	fmt.Fprintln(tw, "Attribute\tDistinct values")
	for _, c := range cols {
		fmt.Fprintf(tw, "%s\t%d\n", c, counts[c])
	}
	return tw.Flush()
}

func runServe(ctx context.Context) error {
	app := NewApp(cfg)
	defer app.Close()

	if err := app.OpenStore(ctx); err != nil {
		return err
	}
	if err := app.ConnectPublisher(); err != nil {
		// serving works without a broker
		zap.L().Warn("mqtt unavailable, publishing disabled", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newHTTPServer(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "serve: listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "serve: shutdown")
	}
	return nil
}
