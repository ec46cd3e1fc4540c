// Copyright 2026 The gVisor Authors.
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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// defaultFileName is used when a log pattern names a directory.
const defaultFileName = "pgwalk.log.%TIMESTAMP%.%COMMAND%.txt"

// FilePattern expands log file patterns. A pattern may contain %TIMESTAMP%
// and %COMMAND%. A pattern ending in '/' names a directory, in which a file
// with a default name is created.
type FilePattern struct {
	// Command replaces %COMMAND%.
	Command string

	// Start replaces %TIMESTAMP%.
	Start time.Time
}

// Path returns the file name for pattern.
func (p FilePattern) Path(pattern string) string {
	if strings.HasSuffix(pattern, "/") {
		pattern += defaultFileName
	}
	pattern = strings.ReplaceAll(pattern, "%TIMESTAMP%", p.Start.Format("20060102-150405.000000"))
	return strings.ReplaceAll(pattern, "%COMMAND%", p.Command)
}

// OpenFile opens the log file named by pattern for appending, creating it and
// its parent directory if needed.
func OpenFile(pattern string, p FilePattern) (*os.File, error) {
	path := p.Path(pattern)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("error creating dir %q: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
	if err != nil {
		return nil, fmt.Errorf("error opening file %q: %w", path, err)
	}
	return f, nil
}
