package indexer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/blackwell-systems/deploygate/internal/audit"
	"github.com/blackwell-systems/deploygate/internal/store"
)

const maxRecordsPerPass = 10_000

// Result describes one indexing pass.
type Result struct {
	// Records are the newly indexed records in file order.
	Records []audit.Record
	// Skipped counts malformed lines passed over.
	Skipped int
	// Offset is the byte offset indexed up to after the pass.
	Offset int64
	// Reset is true when the log had shrunk and the index was rebuilt.
	Reset bool
}

// Process indexes the audit log lines appended since the last pass. Only
// complete, newline-terminated lines are consumed; a trailing partial line
// is left for the next pass. Records and the new offset are committed in
// one transaction. If the log is now shorter than the stored offset the
// index for it is dropped and rebuilt from the start.
//
// A missing log file is not an error.
func Process(st *store.Store, logPath string, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	offset, err := st.Offset(logPath)
	if err != nil {
		return nil, fmt.Errorf("indexer: read offset: %w", err)
	}
	res := &Result{Offset: offset}

	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		if offset > 0 {
			logger.Warn("audit log disappeared, clearing history index", "path", logPath)
			if err := st.Reset(logPath); err != nil {
				return nil, fmt.Errorf("indexer: reset: %w", err)
			}
			res.Offset, res.Reset = 0, true
		}
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("indexer: stat log: %w", err)
	}

	if info.Size() < offset {
		logger.Warn("audit log shrank, rebuilding history index",
			"path", logPath, "size", info.Size(), "offset", offset)
		if err := st.Reset(logPath); err != nil {
			return nil, fmt.Errorf("indexer: reset: %w", err)
		}
		offset, res.Offset, res.Reset = 0, 0, true
	}
	if info.Size() == offset {
		return res, nil
	}

	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("indexer: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("indexer: seek: %w", err)
	}

	consumed := offset
	lineNo := 0
	r := bufio.NewReader(f)
	for len(res.Records) < maxRecordsPerPass {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// Partial line still being written; pick it up next pass.
			break
		}
		if err != nil {
			return nil, fmt.Errorf("indexer: read log: %w", err)
		}
		consumed += int64(len(line))
		lineNo++

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		rec, err := audit.ParseLine(trimmed)
		if err != nil {
			logger.Warn("skipping malformed audit line",
				"path", logPath, "byte_offset", consumed-int64(len(line)), "error", err)
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, rec)
	}

	if consumed == offset {
		return res, nil
	}
	if err := st.AppendRecords(logPath, res.Records, consumed); err != nil {
		return nil, fmt.Errorf("indexer: %w", err)
	}
	res.Offset = consumed

	if len(res.Records) > 0 {
		logger.Debug("indexed audit records", "path", logPath, "records", len(res.Records), "lines", lineNo)
	}
	return res, nil
}

// Rebuild drops the index for logPath and indexes the whole file again.
func Rebuild(st *store.Store, logPath string, logger *slog.Logger) (*Result, error) {
	if err := st.Reset(logPath); err != nil {
		return nil, fmt.Errorf("indexer: reset: %w", err)
	}
	total := &Result{Reset: true}
	for {
		res, err := Process(st, logPath, logger)
		if err != nil {
			return nil, err
		}
		total.Records = append(total.Records, res.Records...)
		total.Skipped += res.Skipped
		if res.Offset == total.Offset {
			return total, nil
		}
		total.Offset = res.Offset
	}
}
