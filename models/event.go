package models

import "github.com/dyike/cortexdesk/consts"

type StageStatus string

const (
	StageStarted  StageStatus = "started"
	StageFinished StageStatus = "finished"
	StageFailed   StageStatus = "failed"
)

// StageEvent reports progress of one run through the stage graph.
type StageEvent struct {
	RunID  string       `json:"run_id"`
	Stage  consts.Stage `json:"stage"`
	Status StageStatus  `json:"status"`
	Detail string       `json:"detail,omitempty"`
}
