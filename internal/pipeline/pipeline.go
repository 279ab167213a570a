package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/dudu/photorevive/internal/align"
	"github.com/dudu/photorevive/internal/compositor"
	"github.com/dudu/photorevive/internal/detector"
	"github.com/dudu/photorevive/internal/imageio"
)

// FaceLocator finds faces and landmarks. Zero faces is a valid result.
type FaceLocator interface {
	Detect(img gocv.Mat) ([]detector.Face, error)
}

// GlobalRestorer restores the whole image at its original dimensions.
type GlobalRestorer interface {
	Restore(img gocv.Mat) (gocv.Mat, error)
}

// FaceEnhancer restores one aligned face crop in canonical space.
type FaceEnhancer interface {
	Enhance(crop gocv.Mat) (gocv.Mat, error)
}

// AlignFunc extracts an aligned crop for one face. Defaults to align.Align;
// injectable for tests.
type AlignFunc func(img gocv.Mat, face detector.Face) (*align.AlignedFace, error)

// Config tunes the orchestrator.
type Config struct {
	// FaceWorkers bounds concurrent per-face align+enhance work.
	FaceWorkers int
	// FeatherSize is the blend mask feather kernel.
	FeatherSize int
	// Compare writes side-by-side before/after grids.
	Compare bool
}

// Pipeline sequences intake, detection, global restoration, per-face
// enhancement, and compositing for a batch of images. Model state is loaded
// once by the caller and shared read-only across the batch.
type Pipeline struct {
	locator    FaceLocator
	restorer   GlobalRestorer
	enhancer   FaceEnhancer
	alignFn    AlignFunc
	compositor *compositor.Compositor
	writer     *imageio.Writer
	log        *zap.Logger
	cfg        Config
}

// New assembles a pipeline over already-constructed stages.
func New(locator FaceLocator, restorer GlobalRestorer, enhancer FaceEnhancer,
	writer *imageio.Writer, log *zap.Logger, cfg Config) *Pipeline {

	if cfg.FaceWorkers < 1 {
		cfg.FaceWorkers = 1
	}
	if cfg.FeatherSize < 3 {
		cfg.FeatherSize = 21
	}

	return &Pipeline{
		locator:    locator,
		restorer:   restorer,
		enhancer:   enhancer,
		alignFn:    align.Align,
		compositor: compositor.New(cfg.FeatherSize),
		writer:     writer,
		log:        log,
		cfg:        cfg,
	}
}

// Run processes every supported image in inputDir. Per-image failures are
// recorded in the report and never abort siblings. Cancellation is honored
// between images; the in-flight image runs to completion. progress, when
// non-nil, is invoked once per finished image.
func (p *Pipeline) Run(ctx context.Context, inputDir string, progress func()) (*BatchReport, error) {
	paths, err := imageio.ListImages(inputDir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no supported images in %s", inputDir)
	}

	report := &BatchReport{}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			p.log.Warn("batch cancelled", zap.Int("remaining", len(paths)-report.Total()))
			return report, err
		}

		res := p.processImage(path)
		report.Add(res)

		if res.Status == StatusFailed {
			p.log.Warn("image failed",
				zap.String("image", res.Name),
				zap.String("stage", res.Stage),
				zap.String("reason", res.Reason))
		} else {
			p.log.Info("image done",
				zap.String("image", res.Name),
				zap.String("status", string(res.Status)),
				zap.Int("faces", res.FacesFound),
				zap.Int("enhanced", res.FacesEnhanced),
				zap.Duration("took", res.Duration))
		}

		if progress != nil {
			progress()
		}
	}

	return report, nil
}

// processImage runs one image through the full state machine. All errors are
// mapped to a Result; nothing escapes to the batch loop.
func (p *Pipeline) processImage(path string) Result {
	start := time.Now()

	img, err := imageio.Load(path)
	if err != nil {
		return failed(filepath.Base(path), StageIntake, err, time.Since(start))
	}
	defer img.Close()

	if err := p.writer.WriteOrigin(img.Name, img.Mat); err != nil {
		p.log.Warn("failed to save origin copy", zap.String("image", img.Name), zap.Error(err))
	}

	// Detection and global restoration have no data dependency.
	var (
		wg         sync.WaitGroup
		faces      []detector.Face
		detectErr  error
		restored   gocv.Mat
		restoreErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		faces, detectErr = p.locator.Detect(img.Mat)
	}()
	go func() {
		defer wg.Done()
		restored, restoreErr = p.restorer.Restore(img.Mat)
	}()
	wg.Wait()

	if restoreErr != nil {
		return failed(img.Name, StageGlobalRestore, restoreErr, time.Since(start))
	}
	defer restored.Close()

	if detectErr != nil {
		// Detection failure degrades to the no-face path.
		p.log.Warn("detection failed, continuing with global restoration only",
			zap.String("image", img.Name), zap.Error(detectErr))
		faces = nil
	}

	if err := p.writer.WriteRestored(img.Name, restored); err != nil {
		p.log.Warn("failed to save restored copy", zap.String("image", img.Name), zap.Error(err))
	}
	if len(faces) > 0 {
		if err := p.writer.WriteDetections(img.Name, img.Mat, faces); err != nil {
			p.log.Warn("failed to save detection overlay", zap.String("image", img.Name), zap.Error(err))
		}
	}

	layers, skips := p.enhanceFaces(img, faces)
	defer func() {
		for i := range layers {
			layers[i].Crop.Close()
		}
	}()

	composite, err := p.compositor.Composite(restored, layers)
	if err != nil {
		return failed(img.Name, StageComposite, err, time.Since(start))
	}
	defer composite.Close()

	outPath, err := p.writer.WriteFinal(img.Name, composite)
	if err != nil {
		return failed(img.Name, StageWrite, err, time.Since(start))
	}

	if p.cfg.Compare {
		if err := p.writer.WriteComparison(img.Name, img.Mat, composite); err != nil {
			p.log.Warn("failed to save comparison", zap.String("image", img.Name), zap.Error(err))
		}
	}

	status := StatusSucceeded
	if len(layers) == 0 {
		status = StatusSucceededNoFace
	}

	return Result{
		Name:          img.Name,
		Status:        status,
		FacesFound:    len(faces),
		FacesEnhanced: len(layers),
		FaceSkips:     skips,
		OutputPath:    outPath,
		Duration:      time.Since(start),
	}
}

// enhanceFaces aligns and enhances each detected face through a bounded
// worker pool. A failure degrades only that face. The returned layers keep
// detection order with skipped faces removed.
func (p *Pipeline) enhanceFaces(img *imageio.Image, faces []detector.Face) ([]compositor.Layer, []string) {
	if len(faces) == 0 {
		return nil, nil
	}

	type slot struct {
		layer *compositor.Layer
		skip  string
	}
	slots := make([]slot, len(faces))

	sem := make(chan struct{}, p.cfg.FaceWorkers)
	var wg sync.WaitGroup

	for i := range faces {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			face := faces[idx]

			aligned, err := p.alignFn(img.Mat, face)
			if err != nil {
				slots[idx].skip = fmt.Sprintf("face %d skipped: degenerate alignment: %v", idx, err)
				return
			}
			defer aligned.Close()

			enhanced, err := p.enhancer.Enhance(aligned.Crop)
			if err != nil {
				slots[idx].skip = fmt.Sprintf("face %d skipped: enhancement failed: %v", idx, err)
				return
			}

			slots[idx].layer = &compositor.Layer{
				Crop:      enhanced,
				Inverse:   aligned.Inverse,
				Landmarks: face.Landmarks,
			}
		}(i)
	}
	wg.Wait()

	var layers []compositor.Layer
	var skips []string
	for i, s := range slots {
		if s.layer != nil {
			if err := p.writer.WriteFaceCrop(img.Name, i, s.layer.Crop); err != nil {
				p.log.Warn("failed to save face crop", zap.String("image", img.Name), zap.Error(err))
			}
			layers = append(layers, *s.layer)
		} else if s.skip != "" {
			p.log.Warn("face degraded", zap.String("image", img.Name), zap.String("note", s.skip))
			skips = append(skips, s.skip)
		}
	}

	return layers, skips
}
