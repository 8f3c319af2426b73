package statistics

import (
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

// TTLStats is how long computed statistics stay valid. Daily price data makes
// anything fresher than a day equivalent.
const TTLStats = 24 * time.Hour

// cachedStats is the msgpack wire form of Stats. SymDense is flattened to a
// row-major triangle-complete matrix for serialization.
type cachedStats struct {
	Assets  []string    `msgpack:"assets"`
	Mean    []float64   `msgpack:"mean"`
	Cov     [][]float64 `msgpack:"cov"`
	StdDev  []float64   `msgpack:"std_dev"`
	Periods int         `msgpack:"periods"`
}

// Cache stores computed statistics in a sqlite table with expiry.
type Cache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCache creates a statistics cache backed by the given database.
func NewCache(db *sql.DB, log zerolog.Logger) (*Cache, error) {
	c := &Cache{
		db:  db,
		log: log.With().Str("component", "stats_cache").Logger(),
	}
	if err := c.initSchema(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) initSchema() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS calc_cache (
			cache_key   TEXT PRIMARY KEY,
			payload     BLOB NOT NULL,
			expires_at  INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create calc_cache table: %w", err)
	}
	return nil
}

// GetStats returns cached statistics for an asset-set hash, if present and fresh.
func (c *Cache) GetStats(hash string) (*Stats, bool) {
	var payload []byte
	var expiresAt int64

	query := `SELECT payload, expires_at FROM calc_cache WHERE cache_key = ?`
	err := c.db.QueryRow(query, "stats:"+hash).Scan(&payload, &expiresAt)
	if err != nil {
		if err != sql.ErrNoRows {
			c.log.Warn().Err(err).Msg("Failed to read statistics cache")
		}
		return nil, false
	}

	if time.Now().Unix() >= expiresAt {
		return nil, false
	}

	var cached cachedStats
	if err := msgpack.Unmarshal(payload, &cached); err != nil {
		c.log.Warn().Err(err).Msg("Failed to unmarshal cached statistics, recalculating")
		return nil, false
	}

	n := len(cached.Assets)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, cached.Cov[i][j])
		}
	}

	return &Stats{
		Assets:  cached.Assets,
		Mean:    cached.Mean,
		Cov:     cov,
		StdDev:  cached.StdDev,
		Periods: cached.Periods,
	}, true
}

// SetStats stores statistics under an asset-set hash with a TTL.
func (c *Cache) SetStats(hash string, stats *Stats, ttl time.Duration) error {
	n := len(stats.Assets)
	cov := make([][]float64, n)
	for i := 0; i < n; i++ {
		cov[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			cov[i][j] = stats.Cov.At(i, j)
		}
	}

	payload, err := msgpack.Marshal(cachedStats{
		Assets:  stats.Assets,
		Mean:    stats.Mean,
		Cov:     cov,
		StdDev:  stats.StdDev,
		Periods: stats.Periods,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}

	query := `
		INSERT INTO calc_cache (cache_key, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at
	`
	_, err = c.db.Exec(query, "stats:"+hash, payload, time.Now().Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to write statistics cache: %w", err)
	}
	return nil
}

// hashAssets creates a deterministic hash from a list of assets.
// Assets are sorted to ensure consistent hashing regardless of input order.
func hashAssets(assets []string) string {
	sorted := make([]string, len(assets))
	copy(sorted, assets)
	sort.Strings(sorted)
	combined := strings.Join(sorted, ",")
	h := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(h[:16])
}

// hashPriceMatrix keys the cache on both the asset set and the price content,
// so two matrices with the same assets but different snapshots never collide.
func hashPriceMatrix(pm PriceMatrix) string {
	h := sha256.New()
	h.Write([]byte(hashAssets(pm.Assets)))
	buf := make([]byte, 8)
	for _, series := range pm.Prices {
		for _, p := range series {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(p))
			h.Write(buf)
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
