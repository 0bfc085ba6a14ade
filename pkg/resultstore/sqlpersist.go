// Copyright 2025 Certen Protocol
//
// SQLPersister: optional Postgres-backed mirror of the result/proof store,
// for deployments that want queryable settlement history. Connection pool
// tuning mirrors this codebase's standard database client setup.

package resultstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/certen/inference-host/pkg/witness"
)

// SQLPersister implements Persister over a Postgres connection pool.
type SQLPersister struct {
	db *sql.DB
}

// SQLConfig configures the underlying connection pool.
type SQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLPersister opens a connection pool and ensures the backing tables
// exist.
func NewSQLPersister(cfg SQLConfig) (*SQLPersister, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 20
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	p := &SQLPersister{db: db}
	if err := p.migrate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *SQLPersister) migrate() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS inference_results (
			job_id TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			response TEXT NOT NULL,
			tokens_generated BIGINT NOT NULL,
			inference_time_ms BIGINT NOT NULL,
			timestamp BIGINT NOT NULL,
			node_id TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS proof_data (
			job_id TEXT PRIMARY KEY,
			proof_bytes BYTEA NOT NULL,
			timestamp BIGINT NOT NULL,
			model_hash BYTEA NOT NULL,
			input_hash BYTEA NOT NULL,
			output_hash BYTEA NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *SQLPersister) PutResult(jobID string, r InferenceResult) error {
	_, err := p.db.Exec(`
		INSERT INTO inference_results (job_id, model_id, prompt, response, tokens_generated, inference_time_ms, timestamp, node_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			model_id = EXCLUDED.model_id,
			prompt = EXCLUDED.prompt,
			response = EXCLUDED.response,
			tokens_generated = EXCLUDED.tokens_generated,
			inference_time_ms = EXCLUDED.inference_time_ms,
			timestamp = EXCLUDED.timestamp,
			node_id = EXCLUDED.node_id
	`, jobID, r.ModelID, r.Prompt, r.Response, r.TokensGenerated, r.InferenceTimeMs, r.Timestamp, r.NodeID)
	return err
}

func (p *SQLPersister) PutProof(jobID string, pr witness.ProofData) error {
	_, err := p.db.Exec(`
		INSERT INTO proof_data (job_id, proof_bytes, timestamp, model_hash, input_hash, output_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE SET
			proof_bytes = EXCLUDED.proof_bytes,
			timestamp = EXCLUDED.timestamp,
			model_hash = EXCLUDED.model_hash,
			input_hash = EXCLUDED.input_hash,
			output_hash = EXCLUDED.output_hash
	`, jobID, pr.ProofBytes, pr.Timestamp, pr.ModelHash[:], pr.InputHash[:], pr.OutputHash[:])
	return err
}

func (p *SQLPersister) DeleteResult(jobID string) error {
	_, err := p.db.Exec(`DELETE FROM inference_results WHERE job_id = $1`, jobID)
	return err
}

func (p *SQLPersister) DeleteProof(jobID string) error {
	_, err := p.db.Exec(`DELETE FROM proof_data WHERE job_id = $1`, jobID)
	return err
}

// Close releases the underlying connection pool.
func (p *SQLPersister) Close() error {
	return p.db.Close()
}
