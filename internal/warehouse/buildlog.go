package warehouse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// StartBuild records the beginning of a build and returns its log id.
func (p *Postgres) StartBuild(ctx context.Context, buildID string, cycle int) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO fec.build_log (build_id, cycle, status, started_at)
		 VALUES ($1, $2, 'running', now()) RETURNING id`,
		buildID, cycle,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "buildlog: start build for cycle %d", cycle)
	}
	return id, nil
}

// CompleteBuild marks a build as published.
func (p *Postgres) CompleteBuild(ctx context.Context, id int64, stats BuildStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "buildlog: marshal stats")
	}
	_, err = p.pool.Exec(ctx,
		`UPDATE fec.build_log
		 SET status = 'complete', completed_at = now(), stats = $1
		 WHERE id = $2`,
		statsJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "buildlog: complete build %d", id)
	}
	return nil
}

// FailBuild marks a build as failed. Counters gathered before the failure
// are kept for QA.
func (p *Postgres) FailBuild(ctx context.Context, id int64, errMsg string, stats BuildStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "buildlog: marshal stats")
	}
	_, err = p.pool.Exec(ctx,
		`UPDATE fec.build_log
		 SET status = 'failed', completed_at = now(), error = $1, stats = $2
		 WHERE id = $3`,
		errMsg, statsJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "buildlog: fail build %d", id)
	}
	return nil
}

// ListBuilds returns the most recent build log entries, newest first.
// A non-positive limit returns every entry.
func (p *Postgres) ListBuilds(ctx context.Context, limit int) ([]BuildEntry, error) {
	q := `SELECT id, build_id, cycle, status, started_at, completed_at, error, stats
		 FROM fec.build_log ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "buildlog: list")
	}
	defer rows.Close()

	var entries []BuildEntry
	for rows.Next() {
		var e BuildEntry
		var completedAt *time.Time
		var errStr *string
		var statsJSON []byte
		if err := rows.Scan(&e.ID, &e.BuildID, &e.Cycle, &e.Status, &e.StartedAt, &completedAt, &errStr, &statsJSON); err != nil {
			return nil, eris.Wrap(err, "buildlog: scan entry")
		}
		e.CompletedAt = completedAt
		if errStr != nil {
			e.Error = *errStr
		}
		if statsJSON != nil {
			_ = json.Unmarshal(statsJSON, &e.Stats)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
