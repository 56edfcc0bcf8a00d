package sim

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"workyard-sim/internal/telemetry"
)

// FileWriter writes events and yard state to JSONL files. The event file is
// the log the replay command verifies.
type FileWriter struct {
	mu        sync.Mutex
	eventFile *os.File
	stateFile *os.File
	eventBuf  *bufio.Writer
	eventEnc  *json.Encoder
	stateEnc  *json.Encoder
}

// NewFileWriter creates a FileWriter. statePath may be empty to skip the
// state log.
func NewFileWriter(eventPath, statePath string) (*FileWriter, error) {
	ef, err := os.Create(eventPath)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(ef)
	fw := &FileWriter{eventFile: ef, eventBuf: buf, eventEnc: json.NewEncoder(buf)}
	if statePath != "" {
		sf, err := os.Create(statePath)
		if err != nil {
			ef.Close()
			return nil, err
		}
		fw.stateFile = sf
		fw.stateEnc = json.NewEncoder(sf)
	}
	return fw, nil
}

// WriteEvent logs a single event.
func (f *FileWriter) WriteEvent(ev telemetry.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eventEnc.Encode(ev)
}

// WriteEvents logs a batch of events and flushes the buffer.
func (f *FileWriter) WriteEvents(events []telemetry.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range events {
		if err := f.eventEnc.Encode(ev); err != nil {
			return err
		}
	}
	return f.eventBuf.Flush()
}

// WriteState logs a yard state row, if enabled.
func (f *FileWriter) WriteState(row telemetry.YardStateRow) error {
	if f.stateEnc == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateEnc.Encode(row)
}

// Close flushes and closes any underlying files.
func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.eventBuf.Flush()
	if e := f.eventFile.Close(); e != nil && err == nil {
		err = e
	}
	if f.stateFile != nil {
		if e := f.stateFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
