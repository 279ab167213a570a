package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dudu/photorevive/internal/detector"
	"github.com/dudu/photorevive/internal/enhancer"
	"github.com/dudu/photorevive/internal/imageio"
	"github.com/dudu/photorevive/internal/inference"
	"github.com/dudu/photorevive/internal/pipeline"
	"github.com/dudu/photorevive/internal/restorer"
)

// Options is the configuration surface accepted from the caller.
type Options struct {
	InputFolder      string
	OutputFolder     string
	GPUID            int
	WithScratch      bool
	HighRes          bool
	Compare          bool
	SaveIntermediate bool
	Workers          int
	FeatherSize      int
	Verbose          bool
}

// Models holds model locations and detector thresholds, overridable through
// PHOTOREVIVE_* environment variables.
type Models struct {
	OrtLibrary    string  `envconfig:"ORT_LIBRARY" default:"lib/libonnxruntime.so"`
	DetectorModel string  `envconfig:"DETECTOR_MODEL" default:"models/retinaface_500m.onnx"`
	RestoreModel  string  `envconfig:"RESTORE_MODEL" default:"models/global_restore.onnx"`
	ScratchModel  string  `envconfig:"SCRATCH_MODEL" default:"models/global_restore_scratch.onnx"`
	UpscaleModel  string  `envconfig:"UPSCALE_MODEL" default:"models/upscale_x4.onnx"`
	FaceModel     string  `envconfig:"FACE_MODEL" default:"models/face_restore_512.onnx"`
	DetectionSize int     `envconfig:"DETECTION_SIZE" default:"640"`
	ConfThreshold float32 `envconfig:"CONF_THRESHOLD" default:"0.5"`
	NMSThreshold  float32 `envconfig:"NMS_THRESHOLD" default:"0.4"`
}

var opts Options

var rootCmd = &cobra.Command{
	Use:     "photorevive",
	Short:   "Restore old photographs with global restoration and face enhancement",
	Version: "0.1.0",
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore every photo in a folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestore(cmd.Context(), opts)
	},
}

func init() {
	restoreCmd.Flags().StringVarP(&opts.InputFolder, "input", "i", "", "Folder of input photos (required)")
	restoreCmd.Flags().StringVarP(&opts.OutputFolder, "output", "o", "output", "Folder for restored photos")
	restoreCmd.Flags().IntVar(&opts.GPUID, "gpu", -1, "GPU device index, -1 for CPU")
	restoreCmd.Flags().BoolVar(&opts.WithScratch, "with-scratch", false, "Enable scratch and damage removal")
	restoreCmd.Flags().BoolVar(&opts.HighRes, "hr", false, "Enable high-resolution working mode")
	restoreCmd.Flags().BoolVar(&opts.Compare, "compare", false, "Write side-by-side before/after comparisons")
	restoreCmd.Flags().BoolVar(&opts.SaveIntermediate, "save-intermediate", false, "Write per-stage intermediate results")
	restoreCmd.Flags().IntVar(&opts.Workers, "workers", 0, "Per-face worker pool size (0 = number of CPUs)")
	restoreCmd.Flags().IntVar(&opts.FeatherSize, "feather", 21, "Blend mask feather kernel size")
	restoreCmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose logging")

	restoreCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(restoreCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runRestore(ctx context.Context, opts Options) error {
	log, err := newLogger(opts.Verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	// Configuration errors are fatal before any processing starts.
	if err := validate(&opts); err != nil {
		return err
	}

	var models Models
	if err := envconfig.Process("photorevive", &models); err != nil {
		return fmt.Errorf("failed to read model configuration: %w", err)
	}

	inputs, err := imageio.ListImages(opts.InputFolder)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no supported images (jpg/png/bmp/tiff) in %s", opts.InputFolder)
	}

	// Device and model weights are fixed once for the whole batch.
	rt, err := inference.NewRuntime(models.OrtLibrary, opts.GPUID, log)
	if err != nil {
		return err
	}
	defer inference.Shutdown()

	locator, err := detector.NewRetinaFace(rt, models.DetectorModel,
		models.DetectionSize, models.ConfThreshold, models.NMSThreshold)
	if err != nil {
		return err
	}
	defer locator.Close()

	global, err := restorer.New(rt, restorer.Config{
		ModelPath:        models.RestoreModel,
		ScratchModelPath: models.ScratchModel,
		UpscaleModelPath: models.UpscaleModel,
		WithScratch:      opts.WithScratch,
		HighRes:          opts.HighRes,
	})
	if err != nil {
		return err
	}
	defer global.Close()

	face, err := enhancer.New(rt, models.FaceModel)
	if err != nil {
		return err
	}
	defer face.Close()

	writer, err := imageio.NewWriter(opts.OutputFolder, opts.SaveIntermediate)
	if err != nil {
		return err
	}

	p := pipeline.New(locator, global, face, writer, log, pipeline.Config{
		FaceWorkers: opts.Workers,
		FeatherSize: opts.FeatherSize,
		Compare:     opts.Compare,
	})

	bar := progressbar.NewOptions(len(inputs),
		progressbar.OptionSetDescription("Restoring photos"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	report, runErr := p.Run(ctx, opts.InputFolder, func() { bar.Add(1) })
	fmt.Fprintln(os.Stderr)

	if report != nil {
		fmt.Print(report.Summary(opts.OutputFolder))
	}
	if runErr != nil {
		return fmt.Errorf("batch interrupted: %w", runErr)
	}

	return nil
}

// validate checks the caller-supplied configuration up front.
func validate(opts *Options) error {
	info, err := os.Stat(opts.InputFolder)
	if err != nil {
		return fmt.Errorf("input folder %s: %w", opts.InputFolder, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input folder %s is not a directory", opts.InputFolder)
	}

	if opts.GPUID < -1 {
		return fmt.Errorf("invalid gpu id %d: use -1 for CPU or a device index", opts.GPUID)
	}

	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	if err := os.MkdirAll(opts.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("output folder %s: %w", opts.OutputFolder, err)
	}

	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	return cfg.Build()
}
