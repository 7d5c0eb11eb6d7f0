package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Raw page captures from browser clients, with modeling lifecycle state
CREATE TABLE IF NOT EXISTS captures (
    id INTEGER PRIMARY KEY,
    tab_url TEXT NOT NULL DEFAULT '',
    tab_title TEXT NOT NULL DEFAULT '',
    collected_at TEXT,
    frames_collected INTEGER DEFAULT 0,
    full_text TEXT NOT NULL DEFAULT '',
    original_text TEXT NOT NULL DEFAULT '',
    structured_blocks JSON,
    client_id TEXT,
    modeling_status TEXT NOT NULL DEFAULT 'pending',
    processing_owner TEXT,
    progress_current INTEGER DEFAULT 0,
    progress_total INTEGER DEFAULT 0,
    error TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME
);

-- Per-block classification results
CREATE TABLE IF NOT EXISTS results (
    id INTEGER PRIMARY KEY,
    capture_id INTEGER NOT NULL REFERENCES captures(id) ON DELETE CASCADE,
    block_index INTEGER NOT NULL,
    text TEXT NOT NULL,
    translated TEXT NOT NULL DEFAULT '',
    original_text TEXT NOT NULL DEFAULT '',
    is_darkpattern INTEGER NOT NULL DEFAULT 0,
    predicate TEXT,
    category TEXT,
    probability INTEGER,
    top1_predicate TEXT,
    top2_predicate TEXT,
    top3_predicate TEXT,
    laws JSON,
    meta JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Labeled reference set used as graph context for inductive inference
CREATE TABLE IF NOT EXISTS reference_labels (
    ref_id INTEGER PRIMARY KEY,
    label TEXT NOT NULL,
    text TEXT NOT NULL DEFAULT ''
);

-- Reference embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_reference USING vec0(
    ref_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Graph hyperparameters recorded when the reference set is loaded
CREATE TABLE IF NOT EXISTS reference_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_captures_status ON captures(modeling_status);
CREATE INDEX IF NOT EXISTS idx_captures_owner ON captures(processing_owner);
CREATE INDEX IF NOT EXISTS idx_results_capture ON results(capture_id);
CREATE INDEX IF NOT EXISTS idx_results_category ON results(category);
`, embeddingDim)
}
