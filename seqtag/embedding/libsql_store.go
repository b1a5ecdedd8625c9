package embedding

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/tursodatabase/go-libsql"
)

// lookupChunk bounds the IN (...) list of a single lookup query.
const lookupChunk = 256

// LibSQLStore serves static word vectors from a libSQL table
// embeddings(token TEXT PRIMARY KEY, vector F32_BLOB(dims)).
type LibSQLStore struct {
	db   *sql.DB
	dims int
}

// OpenLibSQLStore opens (and creates if needed) an embeddings database.
// dsn may be a plain file path, a file: URL or a remote libsql URL.
func OpenLibSQLStore(ctx context.Context, dsn string, dims int) (*LibSQLStore, error) {
	if dims <= 0 || dims > 65536 {
		return nil, fmt.Errorf("embedding dims must be between 1 and 65536 inclusive: %d", dims)
	}
	dbURL := dsn
	if !strings.Contains(dsn, ":") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create embeddings directory: %w", err)
		}
		dbURL = "file:" + dsn
	}
	db, err := sql.Open("libsql", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connector: %w", err)
	}
	s := &LibSQLStore{db: db, dims: dims}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize embeddings database: %w", err)
	}
	// the table may predate this config; its declared size wins
	if dbDims := detectDBEmbeddingDims(ctx, db); dbDims > 0 {
		s.dims = dbDims
	}
	return s, nil
}

func (s *LibSQLStore) initialize(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
		token TEXT PRIMARY KEY,
		vector F32_BLOB(%d) NOT NULL
	)`, s.dims)
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

// detectDBEmbeddingDims introspects the F32_BLOB size of embeddings.vector
func detectDBEmbeddingDims(ctx context.Context, db *sql.DB) int {
	var sqlText string
	_ = db.QueryRowContext(ctx, "SELECT sql FROM sqlite_master WHERE type='table' AND name='embeddings'").Scan(&sqlText)
	low := strings.ToLower(sqlText)
	idx := strings.Index(low, "f32_blob(")
	if idx < 0 {
		return 0
	}
	rest := low[idx+len("f32_blob("):]
	end := strings.Index(rest, ")")
	if end <= 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest[:end]))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func (s *LibSQLStore) Dimensions() int { return s.dims }

// Put inserts or replaces vectors in a single transaction.
func (s *LibSQLStore) Put(ctx context.Context, vectors map[string][]float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert transaction: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO embeddings (token, vector) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for tok, vec := range vectors {
		blob, err := s.encodeVector(vec)
		if err != nil {
			return fmt.Errorf("token %q: %w", tok, err)
		}
		if _, err := stmt.ExecContext(ctx, tok, blob); err != nil {
			return fmt.Errorf("insert %q: %w", tok, err)
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) Embed(ctx context.Context, tokens []string) ([][]float32, error) {
	out := make([][]float32, len(tokens))
	positions := make(map[string][]int, len(tokens))
	unique := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		if _, seen := positions[tok]; !seen {
			unique = append(unique, tok)
		}
		positions[tok] = append(positions[tok], i)
	}
	for start := 0; start < len(unique); start += lookupChunk {
		end := min(start+lookupChunk, len(unique))
		if err := s.lookup(ctx, unique[start:end], positions, out); err != nil {
			return nil, err
		}
	}
	for i := range out {
		if out[i] == nil {
			out[i] = Zero(s.dims)
		}
	}
	return out, nil
}

func (s *LibSQLStore) lookup(ctx context.Context, chunk []string, positions map[string][]int, out [][]float32) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
	args := make([]interface{}, len(chunk))
	for i, tok := range chunk {
		args[i] = tok
	}
	rows, err := s.db.QueryContext(ctx, "SELECT token, vector FROM embeddings WHERE token IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tok string
		var blob []byte
		if err := rows.Scan(&tok, &blob); err != nil {
			return fmt.Errorf("scan embedding: %w", err)
		}
		vec, err := s.decodeVector(blob)
		if err != nil {
			return fmt.Errorf("token %q: %w", tok, err)
		}
		for _, i := range positions[tok] {
			out[i] = fitDims(vec, s.dims)
		}
	}
	return rows.Err()
}

// encodeVector writes vec as little-endian float32 bytes, replacing NaN/Inf with zero.
func (s *LibSQLStore) encodeVector(vec []float32) ([]byte, error) {
	if len(vec) != s.dims {
		return nil, fmt.Errorf("vector must have exactly %d dimensions, got %d", s.dims, len(vec))
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			v = 0
		}
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf, nil
}

// decodeVector reads F32_BLOB bytes into []float32
func (s *LibSQLStore) decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding size: %d bytes", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4 : (i+1)*4]))
	}
	return vec, nil
}

// Close releases the database handle.
func (s *LibSQLStore) Close() error { return s.db.Close() }
