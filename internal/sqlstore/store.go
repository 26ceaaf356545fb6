// Package sqlstore stores EMA frames in a SQLite star schema: station,
// units and measurement type dimensions around the MinMaxHistory,
// AveragesHistory and RealTimeSamples fact tables.
package sqlstore

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/astrorafael/emadb/internal/ema"
	"github.com/astrorafael/emadb/internal/emadb"
)

// progressEvery is the number of realtime inserts between progress logs.
const progressEvery = 60

// dimensions are the lookup tables needed to build fact rows. They are
// rebuilt on reload and replaced as a whole.
type dimensions struct {
	units map[[2]ema.Relay]int
	types map[ema.MeasType]int
}

func (d *dimensions) unitsID(r ema.Record) int {
	return d.units[[2]ema.Relay{r.Roof, r.Aux}]
}

func (d *dimensions) typeID(t ema.MeasType) int {
	if id, ok := d.types[t]; ok {
		return id
	}
	return -1
}

type Store struct {
	db      *sql.DB
	timeout time.Duration
	dims    atomic.Pointer[dimensions]

	mu       sync.Mutex
	stations map[string]int

	rtWrites int
}

var (
	_ emadb.Sink     = (*Store)(nil)
	_ emadb.Stations = (*Store)(nil)
)

// Open opens the SQLite database file. The connection waits at most one
// second for a lock so a busy database does not stall the agent.
func Open(path string) (*sql.DB, error) {
	dsn := "file:" + path +
		"?_pragma=busy_timeout(1000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db, timeout: 5 * time.Second, stations: make(map[string]int)}
}

// Init creates the schema, loads the seed rows and builds the dimension
// caches.
func (s *Store) Init(seed *Seed) error {
	ctx, cancel := s.context()
	defer cancel()
	log.Print("info: sqlstore: creating tables if not exist")
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "creating schema")
		}
	}
	return s.Reload(seed)
}

// Reload inserts new seed rows, rebuilds the dimension caches and forgets
// every resolved station.
func (s *Store) Reload(seed *Seed) error {
	if err := s.populate(seed); err != nil {
		return err
	}
	dims, err := s.loadDimensions()
	if err != nil {
		return err
	}
	s.dims.Store(dims)

	s.mu.Lock()
	s.stations = make(map[string]int)
	s.mu.Unlock()
	log.Print("debug: sqlstore: reload complete")
	return nil
}

func (s *Store) populate(seed *Seed) error {
	ctx, cancel := s.context()
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "populating dimensions")
	}
	defer tx.Rollback()

	for _, t := range types {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO Type (type_id, type) VALUES (?,?)`, t.id, t.name); err != nil {
			return classify(err, "populating Type")
		}
	}
	for _, u := range seed.Units {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO Units VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			u.ID, u.RoofRelay, u.AuxRelay, u.Voltage, u.Wet, u.Cloudy, u.CalPressure, u.AbsPressure,
			u.Rain, u.Irradiation, u.Magnitude, u.Frequency, u.Temperature, u.RelHumidity,
			u.DewPoint, u.WindSpeed, u.WindDirection, u.Lag); err != nil {
			return classify(err, "populating Units")
		}
	}
	for _, st := range seed.Stations {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO Station VALUES (?,?,?,?,?,?,?,?,?)`,
			st.ID, st.MQTTID, st.Name, st.Owner, st.Location, st.Province,
			st.Longitude, st.Latitude, st.Elevation); err != nil {
			return classify(err, "populating Station")
		}
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "populating dimensions")
	}
	log.Printf("info: sqlstore: %d stations, %d units in seed", len(seed.Stations), len(seed.Units))
	return nil
}

func (s *Store) loadDimensions() (*dimensions, error) {
	ctx, cancel := s.context()
	defer cancel()
	dims := &dimensions{
		units: make(map[[2]ema.Relay]int),
		types: make(map[ema.MeasType]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT units_id, roof_relay, aux_relay FROM Units`)
	if err != nil {
		return nil, classify(err, "loading Units")
	}
	for rows.Next() {
		var (
			id        int
			roof, aux string
		)
		if err := rows.Scan(&id, &roof, &aux); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "loading Units")
		}
		key := [2]ema.Relay{relay(roof), relay(aux)}
		if _, dup := dims.units[key]; !dup {
			dims.units[key] = id
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify(err, "loading Units")
	}

	rows, err = s.db.QueryContext(ctx, `SELECT type_id, type FROM Type`)
	if err != nil {
		return nil, classify(err, "loading Type")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, errors.Wrap(err, "loading Type")
		}
		for _, t := range []ema.MeasType{ema.TypeSample, ema.TypeMinimum, ema.TypeMaximum} {
			if t.String() == name {
				dims.types[t] = id
			}
		}
	}
	return dims, classify(rows.Err(), "loading Type")
}

func relay(s string) ema.Relay {
	if s == ema.RelayClosed.String() {
		return ema.RelayClosed
	}
	return ema.RelayOpen
}

// Resolve looks up the station key of a wire id. Known stations are
// cached until the next reload; unknown ones are looked up every time so
// that stations added to the database are picked up.
func (s *Store) Resolve(wireID string) (int, bool, error) {
	s.mu.Lock()
	key, ok := s.stations[wireID]
	s.mu.Unlock()
	if ok {
		return key, true, nil
	}

	ctx, cancel := s.context()
	defer cancel()
	err := s.db.QueryRowContext(ctx, `SELECT station_id FROM Station WHERE mqtt_id = ?`, wireID).Scan(&key)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify(err, "looking up station")
	}
	log.Printf("debug: sqlstore: station %s => %d", wireID, key)
	s.mu.Lock()
	s.stations[wireID] = key
	s.mu.Unlock()
	return key, true, nil
}

// Submit inserts the records of f. Rows already present are left alone,
// so resubmitting a frame stores nothing new.
func (s *Store) Submit(kind ema.Kind, station int, f ema.Frame) (int, error) {
	dims := s.dims.Load()
	if dims == nil {
		return 0, errors.New("sqlstore: not initialised")
	}
	if len(f.Records) == 0 {
		return 0, nil
	}

	ctx, cancel := s.context()
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err, "begin")
	}
	defer tx.Rollback()

	var accepted int64
	for _, r := range f.Records {
		var res sql.Result
		switch kind {
		case ema.MinMaxHistory:
			res, err = tx.ExecContext(ctx, insertMinMax, append([]any{dims.typeID(r.Type)}, factRow(dims, station, r)...)...)
		case ema.AverageSample, ema.AveragesHistory:
			res, err = tx.ExecContext(ctx, insertAverage, factRow(dims, station, r)...)
		case ema.CurrentSample:
			res, err = tx.ExecContext(ctx, insertRealTime, append(factRow(dims, station, r), r.Lag)...)
		default:
			return 0, errors.Errorf("sqlstore: unknown kind %d", kind)
		}
		if err != nil {
			return 0, classify(err, "inserting "+kind.String())
		}
		if n, err := res.RowsAffected(); err == nil {
			accepted += n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(err, "commit")
	}

	if kind == ema.CurrentSample {
		s.rtWrites++
		if s.rtWrites%progressEvery == 1 {
			log.Printf("info: sqlstore: RealTimeSamples rows written so far: %d", s.rtWrites)
		}
		log.Printf("debug: sqlstore: %s committed rows (%d/%d)", kind, accepted, len(f.Records))
	} else {
		log.Printf("info: sqlstore: %s committed rows (%d/%d)", kind, accepted, len(f.Records))
	}
	return int(accepted), nil
}

func factRow(dims *dimensions, station int, r ema.Record) []any {
	return []any{
		r.DateID, r.TimeID, station, dims.unitsID(r),
		r.Voltage, r.Wet, r.Cloudy, r.CalPressure, r.AbsPressure,
		r.Rain, r.Irradiation, r.Magnitude, r.Frequency,
		r.Temperature, r.Humidity, r.DewPoint, r.WindSpeed, r.WindDirection,
		r.Timestamp.Format(time.RFC3339),
	}
}

// DeleteRealTimeBefore removes realtime samples older than dateID and
// returns how many were deleted.
func (s *Store) DeleteRealTimeBefore(dateID int) (int64, error) {
	ctx, cancel := s.context()
	defer cancel()
	res, err := s.db.ExecContext(ctx, `DELETE FROM RealTimeSamples WHERE date_id < ?`, dateID)
	if err != nil {
		return 0, classify(err, "purging RealTimeSamples")
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// classify wraps err, marking locked database conditions as busy.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		switch coder.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return errors.Wrapf(emadb.ErrBusy, "%s: %s", msg, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(emadb.ErrBusy, "%s: %s", msg, err)
	}
	return errors.Wrap(err, msg)
}
