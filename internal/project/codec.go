package project

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dshills/codegraph-mcp/internal/tables"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// Table values are JSON; table keys are the binary encodings from pkg/types
// so byte order matches field order.

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

func decodeSource(data []byte) (types.Source, error) {
	var s types.Source
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to decode source: %w", err)
	}
	return s, nil
}

func decodeSymbol(data []byte) (*types.SymbolInfo, error) {
	var s types.SymbolInfo
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode symbol: %w", err)
	}
	return &s, nil
}

func decodeLocationSet(data []byte) (types.LocationSet, error) {
	var s types.LocationSet
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode location set: %w", err)
	}
	return s, nil
}

func decodeFileIDSet(data []byte) (types.FileIDSet, error) {
	var s types.FileIDSet
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode file id set: %w", err)
	}
	return s, nil
}

// locationKindMap is the value shape of the Targets and Usr tables.
type locationKindMap = map[types.Location]types.Kind

func decodeLocationKindMap(data []byte) (locationKindMap, error) {
	var m locationKindMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode location map: %w", err)
	}
	return m, nil
}

// databaseVersion guards blobs persisted in the General table; a blob
// written by a different version is discarded on load.
const databaseVersion = 1

type visitedPayload struct {
	Version int                     `json:"version"`
	Files   map[types.FileID]string `json:"files"`
}

func encodeVisitedFiles(files map[types.FileID]string) ([]byte, error) {
	return encode(visitedPayload{Version: databaseVersion, Files: files})
}

func decodeVisitedFiles(data []byte) (map[types.FileID]string, error) {
	var payload visitedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode visited files: %w", err)
	}
	if payload.Version != databaseVersion {
		return nil, fmt.Errorf("unsupported database version %d", payload.Version)
	}
	if payload.Files == nil {
		payload.Files = make(map[types.FileID]string)
	}
	return payload.Files, nil
}

// readSource reads and decodes one Sources row.
func readSource(t *tables.Table, key uint64) (types.Source, bool, error) {
	data, err := t.Value(types.EncodeSourceKey(key))
	if errors.Is(err, tables.ErrNotFound) {
		return types.Source{}, false, nil
	}
	if err != nil {
		return types.Source{}, false, err
	}
	s, err := decodeSource(data)
	if err != nil {
		return types.Source{}, false, err
	}
	return s, true, nil
}
