package output

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tkjaer/rttdist/internal/shared"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS measurements (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	target      TEXT NOT NULL,
	hostname    TEXT NOT NULL DEFAULT '',
	lat         REAL NOT NULL,
	lon         REAL NOT NULL,
	avg_rtt     REAL NOT NULL,
	distance    REAL NOT NULL,
	samples     INTEGER NOT NULL,
	min_rtt     REAL NOT NULL,
	median_rtt  REAL NOT NULL,
	max_rtt     REAL NOT NULL,
	stddev_rtt  REAL NOT NULL,
	measured_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS measurements_run_id ON measurements (run_id);
CREATE TABLE IF NOT EXISTS runs (
	run_id           TEXT PRIMARY KEY,
	targets          INTEGER NOT NULL,
	located          INTEGER NOT NULL,
	unlocatable      INTEGER NOT NULL,
	unreachable      INTEGER NOT NULL,
	recorded         INTEGER NOT NULL,
	lookups          INTEGER NOT NULL,
	throttle_waits   INTEGER NOT NULL,
	throttle_seconds REAL NOT NULL,
	elapsed_seconds  REAL NOT NULL,
	completed_at     TIMESTAMP NOT NULL
);`

type measurementRow struct {
	RunID      string    `db:"run_id"`
	Target     string    `db:"target"`
	Hostname   string    `db:"hostname"`
	Lat        float64   `db:"lat"`
	Lon        float64   `db:"lon"`
	AvgRTT     float64   `db:"avg_rtt"`
	Distance   float64   `db:"distance"`
	Samples    int       `db:"samples"`
	MinRTT     float64   `db:"min_rtt"`
	MedianRTT  float64   `db:"median_rtt"`
	MaxRTT     float64   `db:"max_rtt"`
	StdDevRTT  float64   `db:"stddev_rtt"`
	MeasuredAt time.Time `db:"measured_at"`
}

type runRow struct {
	RunID           string    `db:"run_id"`
	Targets         int       `db:"targets"`
	Located         int       `db:"located"`
	Unlocatable     int       `db:"unlocatable"`
	Unreachable     int       `db:"unreachable"`
	Recorded        int       `db:"recorded"`
	Lookups         int       `db:"lookups"`
	ThrottleWaits   int       `db:"throttle_waits"`
	ThrottleSeconds float64   `db:"throttle_seconds"`
	ElapsedSeconds  float64   `db:"elapsed_seconds"`
	CompletedAt     time.Time `db:"completed_at"`
}

// SQLiteOutput inserts every record into a SQLite database. Each insert
// commits on its own.
type SQLiteOutput struct {
	db *sqlx.DB
}

func NewSQLiteOutput(path string) (*SQLiteOutput, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	return &SQLiteOutput{db: db}, nil
}

func (s *SQLiteOutput) WriteHeader() error {
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteOutput) Append(rec shared.MeasurementRecord) error {
	row := measurementRow{
		RunID:      rec.RunID,
		Target:     rec.Target,
		Hostname:   rec.Hostname,
		Lat:        rec.Location.Lat,
		Lon:        rec.Location.Lon,
		AvgRTT:     rec.AvgRTT,
		Distance:   rec.Distance,
		Samples:    rec.Samples,
		MinRTT:     rec.MinRTT,
		MedianRTT:  rec.MedianRTT,
		MaxRTT:     rec.MaxRTT,
		StdDevRTT:  rec.StdDevRTT,
		MeasuredAt: rec.Timestamp.UTC(),
	}
	_, err := s.db.NamedExec(`INSERT INTO measurements
		(run_id, target, hostname, lat, lon,
			avg_rtt, distance, samples,
			min_rtt, median_rtt, max_rtt, stddev_rtt,
			measured_at)
		VALUES (:run_id, :target, :hostname, :lat, :lon,
			:avg_rtt, :distance, :samples,
			:min_rtt, :median_rtt, :max_rtt, :stddev_rtt,
			:measured_at)`,
		row)
	if err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}

func (s *SQLiteOutput) Complete(summary shared.Summary) error {
	row := runRow{
		RunID:           summary.RunID,
		Targets:         summary.Targets,
		Located:         summary.Located,
		Unlocatable:     summary.Unlocatable,
		Unreachable:     summary.Unreachable,
		Recorded:        summary.Recorded,
		Lookups:         summary.Lookups,
		ThrottleWaits:   summary.ThrottleWaits,
		ThrottleSeconds: summary.ThrottleTime.Seconds(),
		ElapsedSeconds:  summary.Elapsed.Seconds(),
		CompletedAt:     time.Now().UTC(),
	}
	_, err := s.db.NamedExec(`INSERT OR REPLACE INTO runs
		(run_id, targets, located, unlocatable, unreachable, recorded,
			lookups, throttle_waits, throttle_seconds, elapsed_seconds, completed_at)
		VALUES (:run_id, :targets, :located, :unlocatable, :unreachable, :recorded,
			:lookups, :throttle_waits, :throttle_seconds, :elapsed_seconds, :completed_at)`,
		row)
	if err != nil {
		return fmt.Errorf("insert run summary: %w", err)
	}
	return nil
}

func (s *SQLiteOutput) Close() error {
	return s.db.Close()
}
