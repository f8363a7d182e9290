package audit

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blackwell-systems/deploygate/internal/deploy"
)

// Log appends records to, and reads records from, one audit log file.
type Log struct {
	path   string
	logger *slog.Logger
}

// New returns a Log for path. The file and its parent directory are created
// on first append.
func New(path string, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{path: path, logger: logger}
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes rec as one line at the end of the log.
//
// The line is written with a single write call while an exclusive advisory
// lock is held, so concurrent deploygate processes sharing a log never
// interleave partial lines. A failure is returned wrapped in
// deploy.ErrLogWriteFailed and logged; it never undoes the deployment the
// record describes.
func (l *Log) Append(rec Record) error {
	if err := l.append(rec); err != nil {
		l.logger.Error("audit append failed",
			"path", l.path,
			"deployable", rec.DeployableName,
			"collection", rec.CollectionName,
			"result", rec.Result,
			"error", err)
		return fmt.Errorf("%w: %v", deploy.ErrLogWriteFailed, err)
	}
	l.logger.Debug("audit record appended", "path", l.path, "deployable", rec.DeployableName, "result", rec.Result)
	return nil
}

func (l *Log) append(rec Record) error {
	line, err := encodeLine(rec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("failed to lock audit log: %w", err)
	}
	defer unlockFile(f) //nolint:errcheck

	n, err := f.Write(line)
	if err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	if n != len(line) {
		return fmt.Errorf("failed to write audit record: short write (%d of %d bytes)", n, len(line))
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return nil
}

// ReadAll reads every record in the log. See ReadAll.
func (l *Log) ReadAll() ([]Record, []*LineError, error) {
	return ReadAll(l.path, l.logger)
}

// LineError describes one log line that could not be parsed.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("audit log line %d skipped: %v", e.Line, e.Err)
}

// Is matches deploy.ErrParseSkipped.
func (e *LineError) Is(target error) bool {
	return target == deploy.ErrParseSkipped
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// ReadAll reads the log at path in file order (oldest first). Blank lines
// are ignored. A line that fails to parse is logged, reported in the
// returned skip list and otherwise ignored, so partial corruption never
// hides the rest of the history. A missing file yields no records and no
// error.
func ReadAll(path string, logger *slog.Logger) ([]Record, []*LineError, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	return readRecords(f, logger)
}

func readRecords(r io.Reader, logger *slog.Logger) ([]Record, []*LineError, error) {
	var (
		records []Record
		skipped []*LineError
	)

	reader := bufio.NewReader(r)
	lineNo := 0
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				rec, perr := ParseLine(trimmed)
				if perr != nil {
					lerr := &LineError{Line: lineNo, Err: perr}
					logger.Warn("skipping malformed audit line", "line", lineNo, "error", perr)
					skipped = append(skipped, lerr)
				} else {
					records = append(records, rec)
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return records, skipped, fmt.Errorf("failed to read audit log: %w", err)
		}
	}

	return records, skipped, nil
}
