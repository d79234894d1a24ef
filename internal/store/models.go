package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strrl/replicant/internal/cluster"
	"github.com/strrl/replicant/internal/corpus"
	"github.com/strrl/replicant/internal/model"
	"github.com/strrl/replicant/internal/participation"
	"github.com/strrl/replicant/internal/similarity"
)

var ErrNoModel = errors.New("no model has been built")

var modelTables = []string{"build_meta", "messages", "length_buckets", "starters", "participation", "word_weights"}

// Save replaces the stored model with set in a single transaction.
func (s *Store) Save(ctx context.Context, set *model.Set) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range modelTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := saveMeta(ctx, tx, set.Meta); err != nil {
		return err
	}
	if err := saveMessages(ctx, tx, set.Messages); err != nil {
		return err
	}
	if err := saveBuckets(ctx, tx, set.Profile); err != nil {
		return err
	}
	if err := saveStarters(ctx, tx, set.Starters); err != nil {
		return err
	}
	if err := saveParticipation(ctx, tx, set.Participation); err != nil {
		return err
	}
	if err := saveWeights(ctx, tx, set.Weights); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit model: %w", err)
	}

	s.logger.Info("saved model",
		zap.String("build_id", set.Meta.BuildID.String()),
		zap.Int("messages", len(set.Messages)),
		zap.Int("words", len(set.Weights)))
	return nil
}

func saveMeta(ctx context.Context, tx *sql.Tx, meta model.Meta) error {
	participants, err := json.Marshal(meta.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO build_meta (build_id, built_at, source, participants, gap_threshold, max_cluster_size, message_count, cluster_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, meta.BuildID.String(), meta.BuiltAt.UnixNano(), meta.Source, string(participants),
		int64(meta.GapThreshold), meta.MaxClusterSize, meta.Messages, meta.Clusters)
	if err != nil {
		return fmt.Errorf("failed to save build meta: %w", err)
	}
	return nil
}

func saveMessages(ctx context.Context, tx *sql.Tx, messages []corpus.Message) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, seq, user_id, user_name, ts, text, tokens, lemmas, forwarded_from, media, reply_to, cluster_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range messages {
		tokens, err := encodeList(m.Tokens)
		if err != nil {
			return err
		}
		lemmas, err := encodeList(m.Lemmas)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, m.ID, i, m.UserID, m.UserName, m.Timestamp.UnixNano(), m.Text,
			tokens, lemmas, m.ForwardedFrom, m.Media, m.ReplyTo, m.ClusterID); err != nil {
			return fmt.Errorf("failed to save message %d: %w", m.ID, err)
		}
	}
	return nil
}

func saveBuckets(ctx context.Context, tx *sql.Tx, p *cluster.LengthProfile) error {
	if p == nil {
		return nil
	}
	for _, b := range p.Buckets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO length_buckets (length, count, probability, avg_message_delay, avg_cluster_delay)
			VALUES (?, ?, ?, ?, ?)
		`, b.Length, b.Count, b.Probability, b.AvgMessageDelay, b.AvgClusterDelay); err != nil {
			return fmt.Errorf("failed to save bucket %d: %w", b.Length, err)
		}
	}
	return nil
}

func saveStarters(ctx context.Context, tx *sql.Tx, p *participation.StarterProfile) error {
	if p == nil {
		return nil
	}
	for i, e := range p.Entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO starters (user_id, name, position, starts, probability, p_text, p_question, p_media, p_repost)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.UserID, e.Name, i, e.Starts, e.Probability,
			e.Types.Text, e.Types.Question, e.Types.Media, e.Types.Repost); err != nil {
			return fmt.Errorf("failed to save starter %s: %w", e.UserID, err)
		}
	}
	return nil
}

func saveParticipation(ctx context.Context, tx *sql.Tx, p *participation.Profile) error {
	if p == nil {
		return nil
	}
	for _, starter := range p.Starters() {
		r := p.ByStarter[starter]
		for i, rate := range r.Rates {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO participation (starter, starter_name, starter_clusters, starter_total, user_id, name, position, messages, rate)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, r.Starter, r.Name, r.Clusters, r.Total, rate.UserID, rate.Name, i, rate.Messages, rate.Rate); err != nil {
				return fmt.Errorf("failed to save participation %s -> %s: %w", starter, rate.UserID, err)
			}
		}
	}
	return nil
}

func saveWeights(ctx context.Context, tx *sql.Tx, weights similarity.WordWeights) error {
	for word, w := range weights {
		if _, err := tx.ExecContext(ctx, "INSERT INTO word_weights (word, weight) VALUES (?, ?)", word, w); err != nil {
			return fmt.Errorf("failed to save weight for %q: %w", word, err)
		}
	}
	return nil
}

// Load reads the stored model. ErrNoModel is returned when nothing was saved.
func (s *Store) Load(ctx context.Context) (*model.Set, error) {
	meta, err := s.Meta(ctx)
	if err != nil {
		return nil, err
	}

	set := &model.Set{Meta: meta}
	if set.Messages, err = s.loadMessages(ctx); err != nil {
		return nil, err
	}
	if set.Profile, err = s.loadProfile(ctx); err != nil {
		return nil, err
	}
	if set.Starters, err = s.loadStarters(ctx); err != nil {
		return nil, err
	}
	if set.Participation, err = s.loadParticipation(ctx); err != nil {
		return nil, err
	}
	if set.Weights, err = s.loadWeights(ctx); err != nil {
		return nil, err
	}

	return set, nil
}

func (s *Store) Meta(ctx context.Context) (model.Meta, error) {
	var (
		meta         model.Meta
		buildID      string
		builtAt      int64
		participants string
		gap          int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT build_id, built_at, source, participants, gap_threshold, max_cluster_size, message_count, cluster_count
		FROM build_meta
		LIMIT 1
	`).Scan(&buildID, &builtAt, &meta.Source, &participants, &gap, &meta.MaxClusterSize, &meta.Messages, &meta.Clusters)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Meta{}, ErrNoModel
	}
	if err != nil {
		return model.Meta{}, fmt.Errorf("failed to get build meta: %w", err)
	}

	if meta.BuildID, err = uuid.Parse(buildID); err != nil {
		return model.Meta{}, fmt.Errorf("failed to parse build id: %w", err)
	}
	if err := json.Unmarshal([]byte(participants), &meta.Participants); err != nil {
		return model.Meta{}, fmt.Errorf("failed to decode participants: %w", err)
	}
	meta.BuiltAt = time.Unix(0, builtAt).UTC()
	meta.GapThreshold = time.Duration(gap)
	return meta, nil
}

func (s *Store) loadMessages(ctx context.Context) ([]corpus.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, user_name, ts, text, tokens, lemmas, forwarded_from, media, reply_to, cluster_id
		FROM messages
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []corpus.Message
	for rows.Next() {
		var (
			m              corpus.Message
			ts             int64
			tokens, lemmas string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.UserName, &ts, &m.Text, &tokens, &lemmas,
			&m.ForwardedFrom, &m.Media, &m.ReplyTo, &m.ClusterID); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Timestamp = time.Unix(0, ts).UTC()
		if m.Tokens, err = decodeList(tokens); err != nil {
			return nil, fmt.Errorf("failed to decode tokens of message %d: %w", m.ID, err)
		}
		if m.Lemmas, err = decodeList(lemmas); err != nil {
			return nil, fmt.Errorf("failed to decode lemmas of message %d: %w", m.ID, err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *Store) loadProfile(ctx context.Context) (*cluster.LengthProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT length, count, probability, avg_message_delay, avg_cluster_delay
		FROM length_buckets
		ORDER BY length
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query length buckets: %w", err)
	}
	defer rows.Close()

	p := &cluster.LengthProfile{}
	for rows.Next() {
		var b cluster.Bucket
		if err := rows.Scan(&b.Length, &b.Count, &b.Probability, &b.AvgMessageDelay, &b.AvgClusterDelay); err != nil {
			return nil, fmt.Errorf("failed to scan length bucket: %w", err)
		}
		p.Buckets = append(p.Buckets, b)
	}
	p.MaxLen = len(p.Buckets)
	return p, rows.Err()
}

func (s *Store) loadStarters(ctx context.Context) (*participation.StarterProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, name, starts, probability, p_text, p_question, p_media, p_repost
		FROM starters
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query starters: %w", err)
	}
	defer rows.Close()

	p := &participation.StarterProfile{}
	for rows.Next() {
		var e participation.Starter
		if err := rows.Scan(&e.UserID, &e.Name, &e.Starts, &e.Probability,
			&e.Types.Text, &e.Types.Question, &e.Types.Media, &e.Types.Repost); err != nil {
			return nil, fmt.Errorf("failed to scan starter: %w", err)
		}
		p.Entries = append(p.Entries, e)
	}
	return p, rows.Err()
}

func (s *Store) loadParticipation(ctx context.Context) (*participation.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT starter, starter_name, starter_clusters, starter_total, user_id, name, messages, rate
		FROM participation
		ORDER BY starter, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query participation: %w", err)
	}
	defer rows.Close()

	p := &participation.Profile{ByStarter: make(map[string]*participation.Responders)}
	for rows.Next() {
		var (
			r    participation.Responders
			rate participation.Rate
		)
		if err := rows.Scan(&r.Starter, &r.Name, &r.Clusters, &r.Total,
			&rate.UserID, &rate.Name, &rate.Messages, &rate.Rate); err != nil {
			return nil, fmt.Errorf("failed to scan participation: %w", err)
		}
		cur, ok := p.ByStarter[r.Starter]
		if !ok {
			cur = &r
			p.ByStarter[r.Starter] = cur
		}
		cur.Rates = append(cur.Rates, rate)
	}
	return p, rows.Err()
}

func (s *Store) loadWeights(ctx context.Context) (similarity.WordWeights, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT word, weight FROM word_weights")
	if err != nil {
		return nil, fmt.Errorf("failed to query word weights: %w", err)
	}
	defer rows.Close()

	weights := make(similarity.WordWeights)
	for rows.Next() {
		var (
			word string
			w    float64
		)
		if err := rows.Scan(&word, &w); err != nil {
			return nil, fmt.Errorf("failed to scan word weight: %w", err)
		}
		weights[word] = w
	}
	return weights, rows.Err()
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}
