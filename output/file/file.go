package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/output"
)

// Config holds configuration for the file sink
type Config struct {
	Directory  string `json:"directory"`
	FilePrefix string `json:"file_prefix"`
	// Format is jsonl (one envelope per line) or json (indented, one per record)
	Format        string        `json:"format"`
	Append        bool          `json:"append"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "file-sink", "Validate", "directory is required")
	}
	if c.Format != "jsonl" && c.Format != "json" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "file-sink", "Validate",
			"format must be one of: json, jsonl")
	}
	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "file-sink", "Validate",
			"buffer_size cannot be negative")
	}
	if c.FlushInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "file-sink", "Validate",
			"flush_interval cannot be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for the file sink
func DefaultConfig() Config {
	return Config{
		Directory:     "/tmp/gesturegate",
		FilePrefix:    "commands",
		Format:        "jsonl",
		Append:        true,
		BufferSize:    32,
		FlushInterval: time.Second,
	}
}

// Stats holds the file sink counters
type Stats struct {
	Written int64  `json:"written"`
	Bytes   int64  `json:"bytes"`
	Errors  int64  `json:"errors"`
	Path    string `json:"path"`
}

// Sink records command envelopes to a file
type Sink struct {
	cfg    Config
	path   string
	logger *slog.Logger

	file   *os.File
	fileMu sync.Mutex

	buffer   [][]byte
	bufferMu sync.Mutex

	shutdown  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	written atomic.Int64
	bytes   atomic.Int64
	errors  atomic.Int64
}

// NewSink opens the output file and starts the periodic flush
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, errors.WrapFatal(err, "file-sink", "NewSink", "create output directory")
	}

	path := filepath.Join(cfg.Directory, fmt.Sprintf("%s.%s", cfg.FilePrefix, cfg.Format))
	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, errors.WrapFatal(err, "file-sink", "NewSink", "open output file")
	}

	s := &Sink{
		cfg:      cfg,
		path:     path,
		logger:   logger.With("component", "file-sink"),
		file:     f,
		buffer:   make([][]byte, 0, cfg.BufferSize),
		shutdown: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.flushLoop()

	s.logger.Info("File sink started",
		"output_file", path,
		"format", cfg.Format,
		"append", cfg.Append,
		"buffer_size", cfg.BufferSize)
	return s, nil
}

// Name implements output.Sink
func (s *Sink) Name() string { return "file" }

// Path is the output file
func (s *Sink) Path() string { return s.path }

// Publish buffers the envelope and flushes when the buffer is full
func (s *Sink) Publish(ctx context.Context, env output.Envelope) error {
	var (
		data []byte
		err  error
	)
	if s.cfg.Format == "json" {
		data, err = json.MarshalIndent(env, "", "  ")
	} else {
		data, err = json.Marshal(env)
	}
	if err != nil {
		s.errors.Add(1)
		return errors.WrapInvalid(err, "file-sink", "Publish", "marshal envelope")
	}

	s.bufferMu.Lock()
	s.buffer = append(s.buffer, data)
	shouldFlush := len(s.buffer) >= s.cfg.BufferSize
	s.bufferMu.Unlock()

	if shouldFlush {
		if ctx.Err() != nil {
			return nil
		}
		return s.flush()
	}
	return nil
}

// flushLoop periodically flushes the buffer
func (s *Sink) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			if err := s.flush(); err != nil {
				s.logger.Warn("Periodic flush failed", "error", err)
			}
		}
	}
}

// flush writes buffered records to the file
func (s *Sink) flush() error {
	s.bufferMu.Lock()
	if len(s.buffer) == 0 {
		s.bufferMu.Unlock()
		return nil
	}
	records := s.buffer
	s.buffer = make([][]byte, 0, s.cfg.BufferSize)
	s.bufferMu.Unlock()

	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if s.file == nil {
		s.errors.Add(int64(len(records)))
		return errors.WrapTransient(errors.ErrAlreadyStopped, "file-sink", "flush", "write records")
	}

	w := bufio.NewWriter(s.file)
	for _, rec := range records {
		n, err := w.Write(append(rec, '\n'))
		if err != nil {
			s.errors.Add(1)
			return errors.WrapTransient(err, "file-sink", "flush", "write record")
		}
		s.written.Add(1)
		s.bytes.Add(int64(n))
	}
	if err := w.Flush(); err != nil {
		s.errors.Add(1)
		return errors.WrapTransient(err, "file-sink", "flush", "flush writer")
	}
	return nil
}

// Close flushes what is buffered and closes the file
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.shutdown)
		s.wg.Wait()

		err = s.flush()

		s.fileMu.Lock()
		defer s.fileMu.Unlock()
		if cerr := s.file.Close(); cerr != nil && err == nil {
			err = errors.WrapTransient(cerr, "file-sink", "Close", "close output file")
		}
		s.file = nil
	})
	return err
}

// Stats returns the sink counters
func (s *Sink) Stats() Stats {
	return Stats{
		Written: s.written.Load(),
		Bytes:   s.bytes.Load(),
		Errors:  s.errors.Load(),
		Path:    s.path,
	}
}
