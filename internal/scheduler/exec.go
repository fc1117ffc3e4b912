package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// ErrNoIndexerCommand is returned when no front-end command is configured.
var ErrNoIndexerCommand = errors.New("no indexer command configured")

// CommandIndexer runs an external indexer process per job. The job is
// written to the child's stdin as JSON and the child prints one IndexData
// JSON document on stdout.
type CommandIndexer struct {
	// Command is the argv of the indexer front-end.
	Command []string
}

// commandRequest is the JSON handed to the child process.
type commandRequest struct {
	Source     types.Source `json:"source"`
	SourceFile string       `json:"sourceFile"`
	Key        uint64       `json:"key"`
}

// Index implements Indexer.
func (c *CommandIndexer) Index(ctx context.Context, job *Job) (*types.IndexData, error) {
	if len(c.Command) == 0 {
		return nil, ErrNoIndexerCommand
	}

	request, err := json.Marshal(commandRequest{
		Source:     job.Source,
		SourceFile: job.SourceFile,
		Key:        job.Key(),
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Stdin = bytes.NewReader(request)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("indexer failed: %w: %s", err, stderr.String())
		}
		return nil, fmt.Errorf("indexer failed: %w", err)
	}

	var data types.IndexData
	if err := json.Unmarshal(stdout.Bytes(), &data); err != nil {
		return nil, fmt.Errorf("malformed indexer output: %w", err)
	}
	return &data, nil
}
