package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Status is the per-image outcome.
type Status string

const (
	// StatusSucceeded means at least one face was enhanced and composited.
	StatusSucceeded Status = "succeeded"
	// StatusSucceededNoFace means the image was globally restored with no
	// face contribution. This is a valid outcome, not an error.
	StatusSucceededNoFace Status = "succeeded-no-face"
	// StatusFailed means the image produced no output.
	StatusFailed Status = "failed"
)

// Pipeline stage names recorded against failures.
const (
	StageIntake        = "intake"
	StageDetection     = "detection"
	StageGlobalRestore = "global-restore"
	StageComposite     = "composite"
	StageWrite         = "write"
)

// Result is the outcome for one input image.
type Result struct {
	Name          string
	Status        Status
	Stage         string // stage at which a failure occurred
	Reason        string // human-readable failure reason
	FacesFound    int
	FacesEnhanced int
	FaceSkips     []string // per-face degradation notes
	OutputPath    string
	Duration      time.Duration
}

// failed builds a failure result for one image.
func failed(name, stage string, err error, elapsed time.Duration) Result {
	return Result{
		Name:     name,
		Status:   StatusFailed,
		Stage:    stage,
		Reason:   err.Error(),
		Duration: elapsed,
	}
}

// BatchReport collects per-image results in intake order.
type BatchReport struct {
	Results []Result
}

// Add appends one result.
func (r *BatchReport) Add(res Result) {
	r.Results = append(r.Results, res)
}

// Total returns the number of processed images.
func (r *BatchReport) Total() int {
	return len(r.Results)
}

// Count returns how many results carry the given status.
func (r *BatchReport) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Summary renders the end-of-batch report: totals, every failure with its
// stage and reason, and the output layout produced.
func (r *BatchReport) Summary(outputDir string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Processed %d image(s): %d succeeded, %d succeeded without faces, %d failed\n",
		r.Total(),
		r.Count(StatusSucceeded),
		r.Count(StatusSucceededNoFace),
		r.Count(StatusFailed),
	)

	for _, res := range r.Results {
		switch res.Status {
		case StatusFailed:
			fmt.Fprintf(&b, "  %s: FAILED at %s: %s\n", res.Name, res.Stage, res.Reason)
		default:
			fmt.Fprintf(&b, "  %s: %s (%d/%d faces enhanced, %s)\n",
				res.Name, res.Status, res.FacesEnhanced, res.FacesFound,
				res.Duration.Round(time.Millisecond))
		}
		for _, skip := range res.FaceSkips {
			fmt.Fprintf(&b, "    %s\n", skip)
		}
	}

	fmt.Fprintf(&b, "Output written under %s (final_output/, comparison_* alongside when enabled)\n", outputDir)

	return b.String()
}
