package wizard

import (
	"fmt"
	"io"
	"strings"

	"github.com/imaginethisprinted/aistudio/internal/api"
	"github.com/imaginethisprinted/aistudio/internal/domain"
)

var stageOrder = []domain.JobType{
	domain.JobTypeImageGeneration,
	domain.JobTypeBackgroundRemoval,
	domain.JobTypeMockup,
	domain.JobTypeUpscale,
}

// Render writes a plain-text progress view of snap.
func Render(out io.Writer, snap Snapshot) {
	fmt.Fprintf(out, "[%s] product %s\n", snap.Step, snap.ProductID)
	if snap.Err != nil {
		fmt.Fprintf(out, "  ! status refresh failed: %v\n", snap.Err)
	}
	if snap.Status == nil {
		return
	}
	for _, stage := range stageOrder {
		for _, job := range jobsOf(snap.Status, stage) {
			fmt.Fprintf(out, "  %-18s #%d %s\n", stage, job.Attempt, badge(job.Status))
			if job.Input.Transform != nil && job.Input.Transform.Template != "" {
				fmt.Fprintf(out, "    template: %s\n", job.Input.Transform.Template)
			}
			for _, o := range job.Output.Outputs {
				fmt.Fprintf(out, "    - %s: %s%s\n", modelLabel(o), o.Status, outputDetail(o))
			}
			if job.Error != nil && *job.Error != "" {
				fmt.Fprintf(out, "    error: %s\n", *job.Error)
			}
		}
	}
	kinds := []domain.AssetKind{domain.AssetKindSource, domain.AssetKindNoBackground, domain.AssetKindMockup, domain.AssetKindUpscaled}
	counts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		counts = append(counts, fmt.Sprintf("%s=%d", kind, len(snap.Status.AssetsByKind[kind])))
	}
	fmt.Fprintf(out, "  assets: %s\n", strings.Join(counts, " "))
}

// jobsOf returns jobs of one type oldest first.
func jobsOf(status *api.Status, t domain.JobType) []api.Job {
	var jobs []api.Job
	for i := len(status.Jobs) - 1; i >= 0; i-- {
		if status.Jobs[i].Type == t {
			jobs = append(jobs, status.Jobs[i])
		}
	}
	return jobs
}

func badge(s domain.JobStatus) string {
	switch s {
	case domain.JobStatusQueued:
		return "[queued]"
	case domain.JobStatusRunning:
		return "[running]"
	case domain.JobStatusSucceeded:
		return "[succeeded]"
	case domain.JobStatusFailed:
		return "[FAILED]"
	default:
		return "[" + string(s) + "]"
	}
}

func modelLabel(o domain.ModelOutput) string {
	if o.ModelName != "" {
		return o.ModelName
	}
	return o.ModelID
}

func outputDetail(o domain.ModelOutput) string {
	switch {
	case o.Error != "":
		return " (" + o.Error + ")"
	case o.URL != "":
		return " " + o.URL
	default:
		return ""
	}
}
