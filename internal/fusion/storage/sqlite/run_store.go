package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/collision.report/internal/fusion/pipeline"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of the pipeline over a sequence.
type Run struct {
	RunID       string          `json:"run_id"`
	SequenceDir string          `json:"sequence_dir"`
	FirstFrame  int             `json:"first_frame"`
	LastFrame   int             `json:"last_frame"`
	ConfigJSON  json.RawMessage `json:"config_json,omitempty"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	StartedAt   int64           `json:"started_at"`            // unix nanoseconds
	FinishedAt  int64           `json:"finished_at,omitempty"` // 0 while running
}

// Estimate is the stored form of one box pair's estimates. Undefined
// estimates have a nil TTC and a non-empty error.
type Estimate struct {
	RunID           string   `json:"run_id"`
	PrevFrame       int      `json:"prev_frame"`
	FrameIndex      int      `json:"frame_index"`
	PrevBoxID       int      `json:"prev_box_id"`
	CurrBoxID       int      `json:"curr_box_id"`
	PrevPoints      int      `json:"prev_points"`
	CurrPoints      int      `json:"curr_points"`
	MatchesAssigned int      `json:"matches_assigned"`
	MatchesKept     int      `json:"matches_kept"`
	LidarTTC        *float64 `json:"lidar_ttc,omitempty"`
	LidarDistance   *float64 `json:"lidar_distance,omitempty"`
	LidarError      string   `json:"lidar_error,omitempty"`
	CameraTTC       *float64 `json:"camera_ttc,omitempty"`
	CameraRatio     *float64 `json:"camera_ratio,omitempty"`
	CameraError     string   `json:"camera_error,omitempty"`
}

// EstimateFromBox converts a pipeline result for storage under runID.
func EstimateFromBox(runID string, est pipeline.BoxEstimate) Estimate {
	e := Estimate{
		RunID:           runID,
		PrevFrame:       est.PrevFrame,
		FrameIndex:      est.CurrFrame,
		PrevBoxID:       est.PrevBoxID,
		CurrBoxID:       est.CurrBoxID,
		PrevPoints:      est.PrevPoints,
		CurrPoints:      est.CurrPoints,
		MatchesAssigned: est.Filter.Assigned,
		MatchesKept:     est.Filter.Kept,
	}
	if v, ok := est.LidarTTC(); ok {
		e.LidarTTC = &v
		d := est.Lidar.CurrDistance
		e.LidarDistance = &d
	} else if est.LidarErr != nil {
		e.LidarError = est.LidarErr.Error()
	}
	if v, ok := est.CameraTTC(); ok {
		e.CameraTTC = &v
		r := est.Camera.MedianRatio
		e.CameraRatio = &r
	} else if est.CameraErr != nil {
		e.CameraError = est.CameraErr.Error()
	}
	return e
}

// RunStore persists runs and estimates.
type RunStore struct {
	db *DB
}

// NewRunStore creates a RunStore on an open database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// StartRun inserts run with status running. A run ID is generated when
// empty and StartedAt defaults to now.
func (s *RunStore) StartRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = clock.Now().UnixNano()
	}
	run.Status = StatusRunning

	var cfg interface{}
	if len(run.ConfigJSON) > 0 {
		cfg = string(run.ConfigJSON)
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO fusion_runs (
				run_id, sequence_dir, first_frame, last_frame, config_json, status, started_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.SequenceDir, run.FirstFrame, run.LastFrame, cfg, run.Status, run.StartedAt,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// FinishRun marks a run completed, or failed with runErr's message.
func (s *RunStore) FinishRun(runID string, runErr error) error {
	status, msg := StatusCompleted, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	finished := clock.Now().UnixNano()

	return retryOnBusy(func() error {
		res, err := s.db.Exec(`
			UPDATE fusion_runs SET status = ?, error = NULLIF(?, ''), finished_at = ?
			WHERE run_id = ?`,
			status, msg, finished, runID,
		)
		if err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return nil
	})
}

// GetRun loads one run.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, sequence_dir, first_frame, last_frame, config_json, status, error, started_at, finished_at
		FROM fusion_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return run, err
}

// ListRuns returns all runs, newest first.
func (s *RunStore) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, sequence_dir, first_frame, last_frame, config_json, status, error, started_at, finished_at
		FROM fusion_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r        Run
		cfg, msg sql.NullString
		finished sql.NullInt64
	)
	err := row.Scan(&r.RunID, &r.SequenceDir, &r.FirstFrame, &r.LastFrame, &cfg, &r.Status, &msg, &r.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	if cfg.Valid {
		r.ConfigJSON = json.RawMessage(cfg.String)
	}
	r.Error = msg.String
	r.FinishedAt = finished.Int64
	return &r, nil
}

// InsertEstimates stores estimates in one transaction. Re-inserting the
// same (run, frame, previous box) replaces the earlier row.
func (s *RunStore) InsertEstimates(estimates []Estimate) error {
	if len(estimates) == 0 {
		return nil
	}
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO fusion_estimates (
				run_id, prev_frame, frame_index, prev_box_id, curr_box_id,
				prev_points, curr_points, matches_assigned, matches_kept,
				lidar_ttc, lidar_distance, lidar_error,
				camera_ttc, camera_ratio, camera_error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''))`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, e := range estimates {
			_, err := stmt.Exec(
				e.RunID, e.PrevFrame, e.FrameIndex, e.PrevBoxID, e.CurrBoxID,
				e.PrevPoints, e.CurrPoints, e.MatchesAssigned, e.MatchesKept,
				nullable(e.LidarTTC), nullable(e.LidarDistance), e.LidarError,
				nullable(e.CameraTTC), nullable(e.CameraRatio), e.CameraError,
			)
			if err != nil {
				return fmt.Errorf("insert estimate frame %d box %d: %w", e.FrameIndex, e.PrevBoxID, err)
			}
		}
		return tx.Commit()
	})
}

// ListEstimates returns a run's estimates ordered by frame and box.
func (s *RunStore) ListEstimates(runID string) ([]Estimate, error) {
	rows, err := s.db.Query(`
		SELECT run_id, prev_frame, frame_index, prev_box_id, curr_box_id,
		       prev_points, curr_points, matches_assigned, matches_kept,
		       lidar_ttc, lidar_distance, lidar_error,
		       camera_ttc, camera_ratio, camera_error
		FROM fusion_estimates
		WHERE run_id = ?
		ORDER BY frame_index, prev_box_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	var out []Estimate
	for rows.Next() {
		var (
			e                                  Estimate
			lidarTTC, lidarDist, camTTC, ratio sql.NullFloat64
			lidarErr, camErr                   sql.NullString
		)
		err := rows.Scan(
			&e.RunID, &e.PrevFrame, &e.FrameIndex, &e.PrevBoxID, &e.CurrBoxID,
			&e.PrevPoints, &e.CurrPoints, &e.MatchesAssigned, &e.MatchesKept,
			&lidarTTC, &lidarDist, &lidarErr,
			&camTTC, &ratio, &camErr,
		)
		if err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		e.LidarTTC = nullFloat(lidarTTC)
		e.LidarDistance = nullFloat(lidarDist)
		e.LidarError = lidarErr.String
		e.CameraTTC = nullFloat(camTTC)
		e.CameraRatio = nullFloat(ratio)
		e.CameraError = camErr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullable(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
