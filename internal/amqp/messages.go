package amqp

import (
	"encoding/json"
	"time"

	"ledgerindex/internal/index"
)

// ChunkJobMessage asks a worker to aggregate one backfill window.
type ChunkJobMessage struct {
	Job       index.ChunkJob `json:"job"`
	Timestamp time.Time      `json:"timestamp"`
}

// ChunkResultMessage carries a worker's answer. Error is set when the job
// could not be aggregated; Result is nil then.
type ChunkResultMessage struct {
	JobID     string             `json:"job_id"`
	Result    *index.ChunkResult `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func NewChunkJobMessage(job index.ChunkJob) *ChunkJobMessage {
	return &ChunkJobMessage{Job: job, Timestamp: time.Now()}
}

func NewChunkResultMessage(jobID string, result *index.ChunkResult, err error) *ChunkResultMessage {
	msg := &ChunkResultMessage{JobID: jobID, Result: result, Timestamp: time.Now()}
	if err != nil {
		msg.Result = nil
		msg.Error = err.Error()
	}
	return msg
}

func (m *ChunkJobMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ChunkJobMessageFromJSON(data []byte) (*ChunkJobMessage, error) {
	var msg ChunkJobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *ChunkResultMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ChunkResultMessageFromJSON(data []byte) (*ChunkResultMessage, error) {
	var msg ChunkResultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
