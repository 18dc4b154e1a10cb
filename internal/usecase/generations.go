package usecase

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// ReadGenerations parses the append-only generations log (spec §3,
// §6: "state_dir/generations.jsonl, one self-delimited structured
// record per line, append-only"). A missing file reads as an empty
// log rather than an error.
func ReadGenerations(ctx context.Context, fs FileSystemPort, path string) ([]GenerationRecord, error) {
	data, err := fs.ReadFile(ctx, path)
	if err != nil {
		if fs.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []GenerationRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec GenerationRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parse generation record: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// AppendGeneration adds one newline-terminated record to the end of the
// log. It reads the existing log and writes the old bytes plus the new
// record through AtomicWriteFile (temp file + rename), so every append
// rewrites the whole file; earlier records keep their bytes, but the
// record is not added by a single append-mode write.
func AppendGeneration(ctx context.Context, fs FileSystemPort, path string, rec GenerationRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal generation record: %w", err)
	}
	line = append(line, '\n')

	existing, err := fs.ReadFile(ctx, path)
	if err != nil {
		if !fs.IsNotExist(err) {
			return err
		}
		existing = nil
	}

	return fs.AtomicWriteFile(ctx, path, append(existing, line...), 0o644)
}

// NthPriorGeneration returns the Nth most recent record strictly
// before the current (last) one, per spec §4.7's "--steps N" lookup:
// N=1 is the generation immediately preceding the current HEAD of the
// log. ok is false when fewer than N prior records exist.
func NthPriorGeneration(records []GenerationRecord, n int) (rec GenerationRecord, ok bool) {
	if n < 1 || len(records) <= n {
		return GenerationRecord{}, false
	}
	idx := len(records) - 1 - n
	if idx < 0 {
		return GenerationRecord{}, false
	}
	return records[idx], true
}
