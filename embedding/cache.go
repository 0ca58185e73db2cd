package embedding

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// CachedProvider wraps a Provider with a content-hash keyed SQLite cache.
// Keys include the model so that switching models never returns stale vectors.
type CachedProvider struct {
	inner Provider
	db    *sql.DB
	log   *zap.Logger
}

func NewCachedProvider(inner Provider, path string) (*CachedProvider, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening embedding cache: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating embedding cache table: %w", err)
	}

	log := zap.L().With(
		zap.String("component", "embedding_cache"),
		zap.String("model", inner.Model()),
	)

	return &CachedProvider{inner, db, log}, nil
}

func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	if v, err := c.get(ctx, key); err == nil {
		return v, nil
	}

	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.put(ctx, key, v); err != nil {
		c.log.Warn("cache write failed", zap.Error(err))
	}

	return v, nil
}

func (c *CachedProvider) Dimension() int {
	return c.inner.Dimension()
}

func (c *CachedProvider) Model() string {
	return c.inner.Model()
}

func (c *CachedProvider) Close() error {
	return c.db.Close()
}

func (c *CachedProvider) key(text string) string {
	h := sha256.New()
	h.Write([]byte(c.inner.Model()))
	h.Write([]byte{0})
	h.Write([]byte(text))

	return hex.EncodeToString(h.Sum(nil)[:16])
}

func (c *CachedProvider) get(ctx context.Context, key string) ([]float32, error) {
	var blob []byte

	row := c.db.QueryRowContext(ctx, "SELECT embedding FROM embedding_cache WHERE content_hash = ?", key)
	if err := row.Scan(&blob); err != nil {
		return nil, err
	}

	return decodeEmbedding(blob), nil
}

func (c *CachedProvider) put(ctx context.Context, key string, v []float32) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO embedding_cache (content_hash, embedding) VALUES (?, ?)",
		key, encodeEmbedding(v),
	)

	return err
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}

	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}

	return v
}
