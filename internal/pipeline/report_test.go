package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatchReportCounts(t *testing.T) {
	r := &BatchReport{}
	r.Add(Result{Name: "a.png", Status: StatusSucceeded, FacesFound: 1, FacesEnhanced: 1})
	r.Add(Result{Name: "b.png", Status: StatusSucceededNoFace})
	r.Add(failed("c.png", StageGlobalRestore, errors.New("device out of memory"), time.Second))

	assert.Equal(t, 3, r.Total())
	assert.Equal(t, 1, r.Count(StatusSucceeded))
	assert.Equal(t, 1, r.Count(StatusSucceededNoFace))
	assert.Equal(t, 1, r.Count(StatusFailed))
}

func TestBatchReportSummary(t *testing.T) {
	r := &BatchReport{}
	r.Add(Result{
		Name:          "a.png",
		Status:        StatusSucceeded,
		FacesFound:    2,
		FacesEnhanced: 1,
		FaceSkips:     []string{"face 1 skipped: degenerate alignment: degenerate landmark geometry"},
		Duration:      1500 * time.Millisecond,
	})
	r.Add(failed("b.png", StageIntake, errors.New("failed to decode image"), time.Millisecond))

	s := r.Summary("/tmp/out")

	assert.Contains(t, s, "Processed 2 image(s)")
	assert.Contains(t, s, "1 succeeded")
	assert.Contains(t, s, "1 failed")
	assert.Contains(t, s, "a.png: succeeded (1/2 faces enhanced")
	assert.Contains(t, s, "face 1 skipped: degenerate alignment")
	assert.Contains(t, s, "b.png: FAILED at intake: failed to decode image")
	assert.Contains(t, s, "/tmp/out")
}

func TestFailedResult(t *testing.T) {
	res := failed("x.png", StageComposite, errors.New("boom"), 2*time.Second)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StageComposite, res.Stage)
	assert.Equal(t, "boom", res.Reason)
	assert.Equal(t, 2*time.Second, res.Duration)
}
