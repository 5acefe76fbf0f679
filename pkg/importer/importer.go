// Package importer turns a newline-delimited file into batches published to the
// work queue, for the billing worker to consume.
package importer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// maxLineSize bounds a single input line.
const maxLineSize = 1024 * 1024

// Config holds the configuration for an import run.
type Config struct {
	// BatchSize is the number of lines per published batch.
	BatchSize int
	// MaxConcurrent is the number of batches that may be in flight at once.
	MaxConcurrent int
}

// NewConfigDefaults returns a config with sensible defaults.
func NewConfigDefaults() *Config {
	return &Config{BatchSize: 10, MaxConcurrent: 5}
}

// Stats summarises an import run.
type Stats struct {
	Lines   int
	Batches int
}

// Importer reads a Source line by line and hands batches to a BatchSender.
type Importer struct {
	batchSize int
	sender    *BatchSender
	logger    zerolog.Logger
}

// New creates an importer.
func New(batchSize int, sender *BatchSender, logger zerolog.Logger) (*Importer, error) {
	if sender == nil {
		return nil, errors.New("batch sender cannot be nil")
	}
	if batchSize <= 0 {
		batchSize = NewConfigDefaults().BatchSize
	}
	return &Importer{
		batchSize: batchSize,
		sender:    sender,
		logger:    logger.With().Str("component", "Importer").Logger(),
	}, nil
}

// Run imports src. Each line is trimmed and blank lines are skipped; lines are not
// otherwise parsed. Run returns once every batch has been sent or has failed.
func (im *Importer) Run(ctx context.Context, src Source) (Stats, error) {
	var stats Stats
	log := im.logger.With().Str("source", src.Name()).Logger()
	log.Info().Msg("Starting import.")

	r, err := src.Open(ctx)
	if err != nil {
		return stats, err
	}
	defer r.Close()
	// Batches already handed over finish even if reading fails.
	defer im.sender.Wait()

	flush := func(lines []string) error {
		if len(lines) == 0 {
			return nil
		}
		stats.Batches++
		return im.sender.Send(ctx, lines)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	batch := make([]string, 0, im.batchSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		stats.Lines++
		batch = append(batch, line)
		if len(batch) >= im.batchSize {
			if err := flush(batch); err != nil {
				return stats, err
			}
			batch = make([]string, 0, im.batchSize)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read %s: %w", src.Name(), err)
	}
	if err := flush(batch); err != nil {
		return stats, err
	}

	im.sender.Wait()
	log.Info().Int("lines", stats.Lines).Int("batches", stats.Batches).Msg("Import finished.")
	return stats, nil
}
