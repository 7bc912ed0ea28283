// Package flightlog keeps a SQLite record of every goal and mission event for
// post-flight review.
package flightlog

import (
	"database/sql"
	"embed"
	"encoding/json"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/tiiuae/survey-guidance/internal/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Log struct {
	db *sql.DB
}

type GoalRecord struct {
	GoalID   string
	Motion   string
	Position types.Point
	Outcome  string
}

// Open opens or creates the log at path and migrates it to the latest schema.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WithMessagef(err, "open %s", path)
	}
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.WithMessage(err, "load migrations")
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return errors.WithMessage(err, "create sqlite driver")
	}
	// m is not closed, that would close db as well
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return errors.WithMessage(err, "create migrate instance")
	}
	m.Log = &migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.WithMessage(err, "migration up failed")
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("FLIGHTLOG: [migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) RecordGoal(id string, goal types.FlightGoal, at time.Time) error {
	_, err := l.db.Exec(
		`INSERT INTO goals (goal_id, motion, x, y, z, yaw, sent_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, goal.Motion.String(), goal.Position.X, goal.Position.Y, goal.Position.Z, goal.Yaw, at.UTC(),
	)
	return errors.WithMessagef(err, "record goal %s", id)
}

func (l *Log) ResolveGoal(id string, outcome types.GoalOutcome, at time.Time) error {
	res, err := l.db.Exec(
		`UPDATE goals SET outcome = ?, resolved_at = ? WHERE goal_id = ?`,
		outcome.String(), at.UTC(), id,
	)
	if err != nil {
		return errors.WithMessagef(err, "resolve goal %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("resolve goal %s: no such goal", id)
	}
	return nil
}

func (l *Log) RecordEvent(msg types.Message) error {
	payload, err := json.Marshal(msg.Message)
	if err != nil {
		return errors.WithMessagef(err, "marshal %s", msg.MessageType)
	}
	_, err = l.db.Exec(
		`INSERT INTO events (event_id, message_type, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		msg.ID, msg.MessageType, string(payload), msg.Timestamp.UTC(),
	)
	return errors.WithMessagef(err, "record %s", msg.MessageType)
}

// Goals returns every goal in the order it was sent.
func (l *Log) Goals() ([]GoalRecord, error) {
	rows, err := l.db.Query(`SELECT goal_id, motion, x, y, z, outcome FROM goals ORDER BY rowid`)
	if err != nil {
		return nil, errors.WithMessage(err, "query goals")
	}
	defer rows.Close()

	var out []GoalRecord
	for rows.Next() {
		var r GoalRecord
		var outcome sql.NullString
		if err := rows.Scan(&r.GoalID, &r.Motion, &r.Position.X, &r.Position.Y, &r.Position.Z, &outcome); err != nil {
			return nil, errors.WithMessage(err, "scan goal")
		}
		r.Outcome = outcome.String
		out = append(out, r)
	}
	return out, errors.WithMessage(rows.Err(), "iterate goals")
}

// EventCounts returns the number of recorded events per message type.
func (l *Log) EventCounts() (map[string]int, error) {
	rows, err := l.db.Query(`SELECT message_type, COUNT(*) FROM events GROUP BY message_type`)
	if err != nil {
		return nil, errors.WithMessage(err, "query events")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var messageType string
		var n int
		if err := rows.Scan(&messageType, &n); err != nil {
			return nil, errors.WithMessage(err, "scan event count")
		}
		out[messageType] = n
	}
	return out, errors.WithMessage(rows.Err(), "iterate events")
}
