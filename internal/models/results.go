package models

import (
	"time"
)

type TaskStatus string

const (
	TaskOK            TaskStatus = "ok"
	TaskUpstreamError TaskStatus = "upstream_error"
	TaskStoreError    TaskStatus = "store_error"
	TaskSkipped       TaskStatus = "skipped"
)

// CollectionTaskResult is the outcome of a single pipeline step.
type CollectionTaskResult struct {
	TaskName   string     `json:"task_name"`
	Status     TaskStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Err        error      `json:"-"`
	Records    int        `json:"records"`
	Paths      []string   `json:"paths,omitempty"`
}

func (r CollectionTaskResult) OK() bool {
	return r.Status == TaskOK
}

// ErrorText is the error message, or "" when the task succeeded.
func (r CollectionTaskResult) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

type RunReport struct {
	RunID      string                 `json:"run_id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Results    []CollectionTaskResult `json:"results"`
}

func (r RunReport) Counts() map[TaskStatus]int {
	out := map[TaskStatus]int{}
	for _, res := range r.Results {
		out[res.Status]++
	}
	return out
}

// OK is true when every task in the report succeeded.
func (r RunReport) OK() bool {
	for _, res := range r.Results {
		if !res.OK() {
			return false
		}
	}
	return true
}

// Summary is the serializable form used when persisting a report.
func (r RunReport) Summary() map[string]any {
	tasks := make([]map[string]any, 0, len(r.Results))
	for _, res := range r.Results {
		tasks = append(tasks, map[string]any{
			"task":        res.TaskName,
			"status":      res.Status,
			"started_at":  res.StartedAt,
			"finished_at": res.FinishedAt,
			"records":     res.Records,
			"paths":       res.Paths,
			"error":       res.ErrorText(),
		})
	}
	return map[string]any{
		"run_id":      r.RunID,
		"started_at":  r.StartedAt,
		"finished_at": r.FinishedAt,
		"counts":      r.Counts(),
		"ok":          r.OK(),
		"tasks":       tasks,
	}
}
