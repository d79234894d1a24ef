// Package parser ingests newline-delimited chat exports through DuckDB.
package parser

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/strrl/replicant/internal/corpus"
	"github.com/strrl/replicant/internal/db"
)

type Parser struct {
	db     *sql.DB
	logger *zap.Logger
}

type Stats struct {
	Rows     int
	Messages int
	Skipped  int
	Users    int
	First    time.Time
	Last     time.Time
}

func NewParser(logger *zap.Logger) (*Parser, error) {
	database, err := db.GetDB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{db: database, logger: logger}, nil
}

func quote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", "''") + "'"
}

// ReadMessages loads every record of the JSONL file or glob at path. Records
// without a timestamp, text or sender are skipped. The result is sorted by
// timestamp, ties keeping file order.
func (p *Parser) ReadMessages(path string) ([]corpus.Message, Stats, error) {
	query := fmt.Sprintf(`
		SELECT CAST(to_json(r) AS VARCHAR) AS record_json
		FROM read_json(%s,
			format = 'newline_delimited',
			union_by_name = true,
			ignore_errors = true
		) AS r
	`, quote(path))

	rows, err := p.db.Query(query)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var (
		stats    Stats
		messages []corpus.Message
	)
	for rows.Next() {
		stats.Rows++

		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			stats.Skipped++
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			p.logger.Debug("skipping undecodable record", zap.Int("row", stats.Rows), zap.Error(err))
			stats.Skipped++
			continue
		}

		m, ok := rec.Message(int64(stats.Rows))
		if !ok {
			stats.Skipped++
			continue
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, Stats{}, fmt.Errorf("rows iteration error: %w", err)
	}

	corpus.SortMessages(messages)

	stats.Messages = len(messages)
	stats.Users = len(corpus.Users(messages))
	if len(messages) > 0 {
		stats.First = messages[0].Timestamp
		stats.Last = messages[len(messages)-1].Timestamp
	}

	p.logger.Info("read chat export",
		zap.String("path", path),
		zap.Int("rows", stats.Rows),
		zap.Int("messages", stats.Messages),
		zap.Int("skipped", stats.Skipped))

	return messages, stats, nil
}

// CountRecords returns the number of rows DuckDB sees at path without decoding
// them.
func (p *Parser) CountRecords(path string) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM read_json(%s,
			format = 'newline_delimited',
			union_by_name = true,
			ignore_errors = true
		)
	`, quote(path))

	var count int
	if err := p.db.QueryRow(query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}
