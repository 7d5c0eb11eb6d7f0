// Package store wraps the SQLite database for all darkscan persistence:
// page captures with their modeling lifecycle, per-block classification
// results, and the labeled reference embeddings used as graph context.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Modeling lifecycle states for a capture.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Capture represents a row in the captures table.
type Capture struct {
	ID               int64  `json:"id"`
	TabURL           string `json:"tab_url"`
	TabTitle         string `json:"tab_title"`
	CollectedAt      string `json:"collected_at,omitempty"`
	FramesCollected  int    `json:"frames_collected"`
	FullText         string `json:"full_text"`
	OriginalText     string `json:"original_text"`
	StructuredBlocks string `json:"structured_blocks,omitempty"` // JSON array
	ClientID         string `json:"client_id,omitempty"`
	ModelingStatus   string `json:"modeling_status"`
	ProcessingOwner  string `json:"processing_owner,omitempty"`
	ProgressCurrent  int    `json:"progress_current"`
	ProgressTotal    int    `json:"progress_total"`
	Error            string `json:"error,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
	CompletedAt      string `json:"completed_at,omitempty"`
}

// Result represents a row in the results table. Predicate, Category, and
// Probability are nil for blocks whose classification failed.
type Result struct {
	ID            int64   `json:"id"`
	CaptureID     int64   `json:"capture_id"`
	BlockIndex    int     `json:"block_index"`
	Text          string  `json:"text"`
	Translated    string  `json:"translated"`
	OriginalText  string  `json:"original_text"`
	IsDarkPattern bool    `json:"is_darkpattern"`
	Predicate     *string `json:"predicate"`
	Category      *string `json:"category"`
	Probability   *int    `json:"probability"` // 0-100
	Top1Predicate string  `json:"top1_predicate,omitempty"`
	Top2Predicate string  `json:"top2_predicate,omitempty"`
	Top3Predicate string  `json:"top3_predicate,omitempty"`
	Laws          string  `json:"laws,omitempty"` // JSON array
	Meta          string  `json:"meta,omitempty"` // JSON object
	CreatedAt     string  `json:"created_at"`
}

// Progress reports how far modeling has advanced on a capture.
type Progress struct {
	CaptureID int64  `json:"capture_id"`
	Status    string `json:"status"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
}

// Summary aggregates classification outcomes across all captures.
type Summary struct {
	Captures       int            `json:"captures"`
	Pending        int            `json:"pending"`
	Processing     int            `json:"processing"`
	Completed      int            `json:"completed"`
	Failed         int            `json:"failed"`
	Results        int            `json:"results"`
	DarkResults    int            `json:"dark_results"`
	CategoryCounts map[string]int `json:"category_counts"`
}

// Store wraps the SQLite database for all darkscan persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Create schema
	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	// Run pending migrations.
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Capture operations ---

// InsertCapture stores a new capture in pending state and returns its ID.
func (s *Store) InsertCapture(ctx context.Context, c Capture) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO captures (tab_url, tab_title, collected_at, frames_collected,
			full_text, original_text, structured_blocks, client_id, modeling_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.TabURL, c.TabTitle, c.CollectedAt, c.FramesCollected,
		c.FullText, c.OriginalText, nullIfEmpty(c.StructuredBlocks), nullIfEmpty(c.ClientID),
		StatusPending)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetCapture retrieves a capture by ID. Returns sql.ErrNoRows when absent.
func (s *Store) GetCapture(ctx context.Context, id int64) (*Capture, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tab_url, tab_title, COALESCE(collected_at, ''), frames_collected,
			full_text, original_text, COALESCE(structured_blocks, ''), COALESCE(client_id, ''),
			modeling_status, COALESCE(processing_owner, ''),
			progress_current, progress_total, COALESCE(error, ''),
			created_at, updated_at, COALESCE(completed_at, '')
		FROM captures WHERE id = ?
	`, id)
	return scanCapture(row)
}

// ListCapturesAfter returns pending captures with an ID greater than the
// cursor, in insertion order. This is the polling primitive behind the
// insert feed: each caller advances its cursor past the rows it has seen.
func (s *Store) ListCapturesAfter(ctx context.Context, afterID int64, limit int) ([]Capture, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tab_url, tab_title, COALESCE(collected_at, ''), frames_collected,
			full_text, original_text, COALESCE(structured_blocks, ''), COALESCE(client_id, ''),
			modeling_status, COALESCE(processing_owner, ''),
			progress_current, progress_total, COALESCE(error, ''),
			created_at, updated_at, COALESCE(completed_at, '')
		FROM captures
		WHERE id > ? AND modeling_status = ?
		ORDER BY id
		LIMIT ?
	`, afterID, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captures []Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		captures = append(captures, *c)
	}
	return captures, rows.Err()
}

// ClaimCapture atomically takes ownership of an unowned capture. Exactly
// one concurrent caller succeeds: the UPDATE only matches while
// processing_owner is still NULL, so losers see zero affected rows and
// get false back.
func (s *Store) ClaimCapture(ctx context.Context, id int64, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE captures
		SET processing_owner = ?, modeling_status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND processing_owner IS NULL
	`, owner, StatusProcessing, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CaptureOwner returns the current processing owner of a capture, or ""
// when it is unclaimed.
func (s *Store) CaptureOwner(ctx context.Context, id int64) (string, error) {
	var owner sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT processing_owner FROM captures WHERE id = ?", id).Scan(&owner)
	if err != nil {
		return "", err
	}
	return owner.String, nil
}

// UpdateCaptureProgress records how many blocks have been classified.
func (s *Store) UpdateCaptureProgress(ctx context.Context, id int64, current, total int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE captures
		SET progress_current = ?, progress_total = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, current, total, id)
	return err
}

// GetProgress returns the modeling progress of a capture.
func (s *Store) GetProgress(ctx context.Context, id int64) (*Progress, error) {
	p := &Progress{CaptureID: id}
	var errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT modeling_status, progress_current, progress_total, error
		FROM captures WHERE id = ?
	`, id).Scan(&p.Status, &p.Current, &p.Total, &errMsg)
	if err != nil {
		return nil, err
	}
	p.Error = errMsg.String
	return p, nil
}

// CompleteCapture marks an owned capture as completed. The owner guard
// keeps a stale instance from overwriting state it no longer holds.
func (s *Store) CompleteCapture(ctx context.Context, id int64, owner string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE captures
		SET modeling_status = ?, error = NULL,
			updated_at = CURRENT_TIMESTAMP, completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND processing_owner = ?
	`, StatusCompleted, id, owner)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// FailCapture marks an owned capture as failed with a diagnostic message.
func (s *Store) FailCapture(ctx context.Context, id int64, owner, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE captures
		SET modeling_status = ?, error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND processing_owner = ?
	`, StatusFailed, message, id, owner)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// --- Result operations ---

// InsertResult stores one block classification. Returns the result ID.
func (s *Store) InsertResult(ctx context.Context, r Result) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO results (capture_id, block_index, text, translated, original_text,
			is_darkpattern, predicate, category, probability,
			top1_predicate, top2_predicate, top3_predicate, laws, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.CaptureID, r.BlockIndex, r.Text, r.Translated, r.OriginalText,
		boolToInt(r.IsDarkPattern), r.Predicate, r.Category, r.Probability,
		nullIfEmpty(r.Top1Predicate), nullIfEmpty(r.Top2Predicate), nullIfEmpty(r.Top3Predicate),
		nullIfEmpty(r.Laws), nullIfEmpty(r.Meta))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ResultsByCapture returns all results for a capture in block order.
func (s *Store) ResultsByCapture(ctx context.Context, captureID int64) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, capture_id, block_index, text, translated, original_text,
			is_darkpattern, predicate, category, probability,
			COALESCE(top1_predicate, ''), COALESCE(top2_predicate, ''), COALESCE(top3_predicate, ''),
			COALESCE(laws, ''), COALESCE(meta, ''), created_at
		FROM results WHERE capture_id = ? ORDER BY block_index
	`, captureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var dark int
		if err := rows.Scan(&r.ID, &r.CaptureID, &r.BlockIndex, &r.Text, &r.Translated,
			&r.OriginalText, &dark, &r.Predicate, &r.Category, &r.Probability,
			&r.Top1Predicate, &r.Top2Predicate, &r.Top3Predicate,
			&r.Laws, &r.Meta, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.IsDarkPattern = dark != 0
		results = append(results, r)
	}
	return results, rows.Err()
}

// ResultSummary aggregates lifecycle and classification counts.
func (s *Store) ResultSummary(ctx context.Context) (*Summary, error) {
	sum := &Summary{CategoryCounts: map[string]int{}}

	rows, err := s.db.QueryContext(ctx,
		"SELECT modeling_status, COUNT(*) FROM captures GROUP BY modeling_status")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		sum.Captures += n
		switch status {
		case StatusPending:
			sum.Pending = n
		case StatusProcessing:
			sum.Processing = n
		case StatusCompleted:
			sum.Completed = n
		case StatusFailed:
			sum.Failed = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(is_darkpattern), 0) FROM results").
		Scan(&sum.Results, &sum.DarkResults); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM results
		WHERE is_darkpattern = 1 AND category IS NOT NULL
		GROUP BY category
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		sum.CategoryCounts[category] = n
	}
	return sum, rows.Err()
}

// --- Reference set operations ---

// InsertReferenceEmbedding stores one labeled reference vector. The label
// row and the vec0 row share the same ID, written in one transaction.
func (s *Store) InsertReferenceEmbedding(ctx context.Context, label, text string, embedding []float32) (int64, error) {
	if len(embedding) != s.embeddingDim {
		return 0, fmt.Errorf("embedding dim %d, store expects %d", len(embedding), s.embeddingDim)
	}
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO reference_labels (label, text) VALUES (?, ?)", label, text)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO vec_reference (ref_id, embedding) VALUES (?, ?)",
			id, serializeFloat32(embedding))
		return err
	})
	return id, err
}

// ClearReferenceSet removes all reference vectors and labels.
func (s *Store) ClearReferenceSet(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_reference"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM reference_labels")
		return err
	})
}

// LoadReferenceSet returns every reference embedding with its label, in
// insertion order. This is the graph context loaded once per inference.
func (s *Store) LoadReferenceSet(ctx context.Context) ([][]float32, []string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.label, v.embedding
		FROM reference_labels l
		JOIN vec_reference v ON v.ref_id = l.ref_id
		ORDER BY l.ref_id
	`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var vecs [][]float32
	var labels []string
	for rows.Next() {
		var label string
		var blob []byte
		if err := rows.Scan(&label, &blob); err != nil {
			return nil, nil, err
		}
		vecs = append(vecs, deserializeFloat32(blob))
		labels = append(labels, label)
	}
	return vecs, labels, rows.Err()
}

// ReferenceCount returns the number of stored reference vectors.
func (s *Store) ReferenceCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reference_labels").Scan(&n)
	return n, err
}

// NearestReferences returns the labels of the k reference vectors closest
// to the query embedding, nearest first.
func (s *Store) NearestReferences(ctx context.Context, embedding []float32, k int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.label
		FROM vec_reference v
		JOIN reference_labels l ON l.ref_id = v.ref_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// SetMeta stores one reference_meta key, overwriting any previous value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reference_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetMeta returns a reference_meta value, or "" when the key is absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM reference_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCapture(row rowScanner) (*Capture, error) {
	c := &Capture{}
	if err := row.Scan(&c.ID, &c.TabURL, &c.TabTitle, &c.CollectedAt, &c.FramesCollected,
		&c.FullText, &c.OriginalText, &c.StructuredBlocks, &c.ClientID,
		&c.ModelingStatus, &c.ProcessingOwner,
		&c.ProgressCurrent, &c.ProgressTotal, &c.Error,
		&c.CreatedAt, &c.UpdatedAt, &c.CompletedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 is the inverse of serializeFloat32.
func deserializeFloat32(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
