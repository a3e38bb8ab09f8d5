// Package cron schedules background maintenance for the bot: memory
// retention purges, cache sweeps, and whatever one-off jobs get registered
// at runtime. Jobs persist as JSON so they survive restarts.
package cron

import (
	"time"

	"github.com/google/uuid"
)

// Schedule is a six-field cron expression (with seconds).
type Schedule struct {
	Expr string `json:"expr"`
}

// Payload names the task a job runs. The gateway maps Task to a handler.
type Payload struct {
	Task string `json:"task"`
}

// JobState tracks the last execution outcome.
type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs"`
	LastStatus  string `json:"lastStatus"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	Enabled        bool     `json:"enabled"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	State          JobState `json:"state"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Schedule:    schedule,
		Payload:     payload,
		Enabled:     true,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}
