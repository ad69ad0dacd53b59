package filequeue

import (
	"encoding/json"
	"fmt"
)

// MaxNodePayload is the coordinator's per-node payload ceiling. The codec
// rejects larger records; callers surface that as a logic error.
const MaxNodePayload = 1 << 20

// NodeMetadata is the record attached to each file state node. The encoding
// is self-describing and tolerant of unknown fields, so records written by
// newer releases still decode.
type NodeMetadata struct {
	FilePath               string `json:"file_path"`
	ProcessingID           string `json:"processing_id,omitempty"`
	Retries                int    `json:"retries,omitempty"`
	LastException          string `json:"last_exception,omitempty"`
	LastProcessedTimestamp int64  `json:"last_processed_timestamp,omitempty"`
}

// Encode serializes the record, rejecting payloads over MaxNodePayload.
func (m *NodeMetadata) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode node metadata for %q: %w", m.FilePath, err)
	}
	if len(data) > MaxNodePayload {
		return nil, fmt.Errorf("node metadata for %q is %d bytes, over the %d byte limit", m.FilePath, len(data), MaxNodePayload)
	}
	return data, nil
}

// DecodeNodeMetadata parses a state-node payload.
func DecodeNodeMetadata(data []byte) (NodeMetadata, error) {
	var m NodeMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return NodeMetadata{}, fmt.Errorf("decode node metadata: %w", err)
	}
	return m, nil
}

// ProcessorInfo is the payload of processing-id nodes and bucket locks,
// naming the worker that currently owns the claim or lease.
type ProcessorInfo struct {
	Processor    string `json:"processor"`
	ProcessingID string `json:"processing_id,omitempty"`
}

func (p *ProcessorInfo) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode processor info: %w", err)
	}
	return data, nil
}
