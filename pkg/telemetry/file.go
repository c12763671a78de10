// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	logger "github.com/jacquetpi/hostslack/pkg/log"
)

var log = logger.NewLogger("telemetry")

type fileRecord struct {
	Kind   string        `json:"kind"` // "subset" or "global"
	Subset *SubsetSample `json:"subset,omitempty"`
	Global *GlobalSample `json:"global,omitempty"`
}

// File is a JSON-lines-backed EndpointPool: every Store appends one line to
// path, and Load scans the file for the most recent matching record. Store
// failures are logged and also returned; the scheduler's own callers
// discard the returned error, so storing stays best-effort.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a File-backed pool appending to path. The file is created
// by the first Store if absent.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) append(rec fileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("telemetry: failed to open %s: %w", f.path, err)
	}
	defer file.Close()

	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("telemetry: failed to marshal record: %w", err)
	}
	if _, err := file.Write(append(blob, '\n')); err != nil {
		return fmt.Errorf("telemetry: failed to write %s: %w", f.path, err)
	}
	return nil
}

func (f *File) StoreSubset(ctx context.Context, sample SubsetSample) error {
	if err := f.append(fileRecord{Kind: "subset", Subset: &sample}); err != nil {
		log.Warn("failed to store subset sample: %v", err)
		return err
	}
	return nil
}

func (f *File) StoreGlobal(ctx context.Context, sample GlobalSample) error {
	if err := f.append(fileRecord{Kind: "global", Global: &sample}); err != nil {
		log.Warn("failed to store global sample: %v", err)
		return err
	}
	return nil
}

func (f *File) LoadSubset(ctx context.Context, subsetID string, timestamp int64) (SubsetSample, bool, error) {
	var found SubsetSample
	ok, err := f.scan(func(rec fileRecord) bool {
		if rec.Kind != "subset" || rec.Subset == nil {
			return false
		}
		if rec.Subset.SubsetID != subsetID || rec.Subset.Timestamp != timestamp {
			return false
		}
		found = *rec.Subset
		return true
	})
	return found, ok, err
}

func (f *File) LoadGlobal(ctx context.Context, managerID string, timestamp int64) (GlobalSample, bool, error) {
	var found GlobalSample
	ok, err := f.scan(func(rec fileRecord) bool {
		if rec.Kind != "global" || rec.Global == nil {
			return false
		}
		if rec.Global.ManagerID != managerID || rec.Global.Timestamp != timestamp {
			return false
		}
		found = *rec.Global
		return true
	})
	return found, ok, err
}

// scan reads every record in file order, calling match on each; it returns
// the last match found (most recent write wins), or false if none matched.
func (f *File) scan(match func(fileRecord) bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("telemetry: failed to open %s: %w", f.path, err)
	}
	defer file.Close()

	found := false
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec fileRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // tolerate a partial trailing write
		}
		if match(rec) {
			found = true
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("telemetry: failed to read %s: %w", f.path, err)
	}
	return found, nil
}

var _ EndpointPool = (*File)(nil)
