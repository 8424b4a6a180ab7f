package events

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"grimm.is/zedctl/internal/logging"
)

// Recorder subscribes to player count events and writes time-series data
// to SQLite. It implements RRD-like storage with automatic rollups so
// the dashboard can chart months of population history cheaply.
type Recorder struct {
	db  *sql.DB
	hub *Hub
	log *logging.Logger

	// Write buffer to reduce SQLite IOPS
	buffer   []playerSample
	bufferMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type playerSample struct {
	at       int64 // unix seconds, taken when the event was observed
	serverID string
	online   int
}

// RecorderConfig configures the player sample recorder.
type RecorderConfig struct {
	// FlushInterval is how often to flush buffered writes (default: 10s)
	FlushInterval time.Duration

	// JanitorInterval is how often to run rollups (default: 1h)
	JanitorInterval time.Duration

	// RawRetention is how long to keep raw samples (default: 2h)
	RawRetention time.Duration

	// HourlyRetention is how long to keep hourly data (default: 30d)
	HourlyRetention time.Duration
}

// DefaultRecorderConfig returns sensible defaults.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		FlushInterval:   10 * time.Second,
		JanitorInterval: 1 * time.Hour,
		RawRetention:    2 * time.Hour,
		HourlyRetention: 30 * 24 * time.Hour,
	}
}

// NewRecorder creates a player sample recorder.
func NewRecorder(db *sql.DB, hub *Hub) (*Recorder, error) {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Recorder{
		db:     db,
		hub:    hub,
		log:    logging.WithComponent("events"),
		buffer: make([]playerSample, 0, 256),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := r.initSchema(); err != nil {
		cancel()
		return nil, err
	}

	return r, nil
}

func (r *Recorder) initSchema() error {
	schema := `
	-- Tier 1: Raw samples (kept for 2 hours, flushed every 10s)
	CREATE TABLE IF NOT EXISTS players_raw (
		timestamp INTEGER NOT NULL,
		server_id TEXT NOT NULL,
		online INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_players_raw_ts ON players_raw(timestamp);
	CREATE INDEX IF NOT EXISTS idx_players_raw_server ON players_raw(server_id);

	-- Tier 2: Hourly aggregates (kept for 30 days)
	CREATE TABLE IF NOT EXISTS players_hourly (
		hour_bucket TEXT NOT NULL,
		server_id TEXT NOT NULL,
		peak INTEGER DEFAULT 0,
		samples INTEGER DEFAULT 0,
		PRIMARY KEY (hour_bucket, server_id)
	);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Start begins the recorder background processing.
func (r *Recorder) Start(cfg RecorderConfig) {
	samples := r.hub.Subscribe(1000, EventPlayerCount)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				return
			case e := <-samples:
				if data, ok := e.Data.(PlayerCountData); ok {
					at := e.Timestamp
					if at.IsZero() {
						at = time.Now()
					}
					r.bufferMu.Lock()
					r.buffer = append(r.buffer, playerSample{at: at.Unix(), serverID: e.ServerID, online: data.Online})
					r.bufferMu.Unlock()
				}
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				r.flush() // Final flush on shutdown
				return
			case <-ticker.C:
				r.flush()
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(cfg.JanitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.runJanitor(cfg)
			}
		}
	}()
}

// Stop gracefully shuts down the recorder.
func (r *Recorder) Stop() {
	r.cancel()
	r.wg.Wait()
}

// flush writes buffered samples to SQLite.
func (r *Recorder) flush() {
	r.bufferMu.Lock()
	if len(r.buffer) == 0 {
		r.bufferMu.Unlock()
		return
	}
	toFlush := r.buffer
	r.buffer = make([]playerSample, 0, 256)
	r.bufferMu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		r.log.Error("begin sample flush", "error", err)
		return
	}

	stmt, err := tx.Prepare(`INSERT INTO players_raw (timestamp, server_id, online) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		r.log.Error("prepare sample insert", "error", err)
		return
	}
	defer stmt.Close()

	for _, s := range toFlush {
		if _, err := stmt.Exec(s.at, s.serverID, s.online); err != nil {
			r.log.Error("insert sample", "server", s.serverID, "error", err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.log.Error("commit sample flush", "error", err)
	}
}

// runJanitor performs the RRD-style rollups and cleanup.
func (r *Recorder) runJanitor(cfg RecorderConfig) {
	// 1. Rollup raw -> hourly (for samples older than 1 hour)
	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO players_hourly (hour_bucket, server_id, peak, samples)
		SELECT
			strftime('%Y-%m-%d %H:00', timestamp, 'unixepoch') as hb,
			server_id,
			max(online),
			count(*)
		FROM players_raw
		WHERE timestamp < strftime('%s', 'now', '-1 hour')
		GROUP BY 1, 2
	`)
	if err != nil {
		r.log.Error("rollup raw to hourly", "error", err)
	}

	// 2. Delete raw samples older than retention
	rawCutoff := time.Now().Add(-cfg.RawRetention).Unix()
	if _, err := r.db.Exec(`DELETE FROM players_raw WHERE timestamp < ?`, rawCutoff); err != nil {
		r.log.Error("cleanup raw samples", "error", err)
	}

	// 3. Delete hourly data older than retention
	hourlyCutoff := time.Now().Add(-cfg.HourlyRetention).Format("2006-01-02 15:00")
	if _, err := r.db.Exec(`DELETE FROM players_hourly WHERE hour_bucket < ?`, hourlyCutoff); err != nil {
		r.log.Error("cleanup hourly samples", "error", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Query Methods (for API/UI)
// ──────────────────────────────────────────────────────────────────────────────

// TimeSeriesPoint is a single data point for charts.
type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Online    int       `json:"online"`
}

// RecentSamples returns raw player samples for a server (sparkline data).
func (r *Recorder) RecentSamples(serverID string, duration time.Duration) ([]TimeSeriesPoint, error) {
	cutoff := time.Now().Add(-duration).Unix()

	rows, err := r.db.Query(`
		SELECT timestamp, online
		FROM players_raw
		WHERE server_id = ? AND timestamp >= ?
		ORDER BY timestamp
	`, serverID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []TimeSeriesPoint
	for rows.Next() {
		var p TimeSeriesPoint
		var ts int64
		if err := rows.Scan(&ts, &p.Online); err != nil {
			continue
		}
		p.Timestamp = time.Unix(ts, 0)
		points = append(points, p)
	}
	return points, rows.Err()
}

// HourlyPeaks returns hourly peak population for a server.
func (r *Recorder) HourlyPeaks(serverID string, days int) ([]TimeSeriesPoint, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Format("2006-01-02 15:00")

	rows, err := r.db.Query(`
		SELECT hour_bucket, peak
		FROM players_hourly
		WHERE server_id = ? AND hour_bucket >= ?
		ORDER BY hour_bucket
	`, serverID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []TimeSeriesPoint
	for rows.Next() {
		var p TimeSeriesPoint
		var bucket string
		if err := rows.Scan(&bucket, &p.Online); err != nil {
			continue
		}
		p.Timestamp, _ = time.Parse("2006-01-02 15:04", bucket)
		points = append(points, p)
	}
	return points, rows.Err()
}
