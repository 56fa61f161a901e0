package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"ecofarm.ai/internal/protocol"
	"ecofarm.ai/internal/sim/catalogs"
	"ecofarm.ai/internal/sim/tuning"
)

// SQLiteIndex is the queryable read model of the farm. Broadcast events are
// indexed asynchronously by a single writer goroutine; the simulation never
// waits on the database. The JSONL journal remains the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan protocol.Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: market rounds and worker state changes come in bursts.
		ch: make(chan protocol.Event, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(type, ts);`,
		`CREATE TABLE IF NOT EXISTS fields (
			field_id INTEGER PRIMARY KEY,
			crop TEXT NOT NULL,
			moisture INTEGER NOT NULL,
			health INTEGER NOT NULL,
			scan_level INTEGER NOT NULL,
			growth INTEGER NOT NULL,
			disease TEXT,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS workers (
			worker_id TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			battery INTEGER NOT NULL,
			location TEXT NOT NULL,
			state TEXT NOT NULL,
			carrying TEXT,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS market (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			kind TEXT NOT NULL,
			party TEXT,
			item TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			price REAL,
			high_bid REAL,
			payment REAL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_market_item_ts ON market(item, ts);`,
		`CREATE TABLE IF NOT EXISTS diagnoses (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			worker_id TEXT NOT NULL,
			field_id INTEGER NOT NULL,
			disease TEXT,
			confidence INTEGER NOT NULL,
			explanation TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_diagnoses_field_ts ON diagnoses(field_id, ts);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Publish implements protocol.Sink. Events are dropped if the indexer falls
// behind; the journal keeps the full stream.
func (s *SQLiteIndex) Publish(ev protocol.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// UpsertCatalogs records the loaded catalogs and effective tuning with their
// digests, so a replay can verify it runs against the same vocabulary.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	raw := map[string][]byte{}
	read := func(name, path string) {
		b, err := os.ReadFile(path)
		if err != nil {
			return
		}
		raw[name] = b
	}
	if configDir != "" {
		read("crops", filepath.Join(configDir, "crops.json"))
		read("diseases", filepath.Join(configDir, "diseases.json"))
		read("items", filepath.Join(configDir, "items.json"))
	}

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b := raw["crops"]; len(b) > 0 {
		rows = append(rows, kv{name: "crops", digest: cats.Crops.Digest, json: b})
	}
	if b := raw["diseases"]; len(b) > 0 {
		rows = append(rows, kv{name: "diseases", digest: cats.Diseases.Digest, json: b})
	}
	if b := raw["items"]; len(b) > 0 {
		rows = append(rows, kv{name: "items", digest: cats.Items.Digest, json: b})
	}

	// Tuning: store the values we actually apply (canonical JSON).
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT INTO events(ts,type,payload) VALUES(?,?,?)`)
	upsertField, _ := s.db.Prepare(`INSERT OR REPLACE INTO fields(field_id,crop,moisture,health,scan_level,growth,disease,updated_at) VALUES(?,?,?,?,?,?,?,?)`)
	upsertWorker, _ := s.db.Prepare(`INSERT OR REPLACE INTO workers(worker_id,role,battery,location,state,carrying,updated_at) VALUES(?,?,?,?,?,?,?)`)
	insertMarket, _ := s.db.Prepare(`INSERT INTO market(ts,kind,party,item,quantity,price,high_bid,payment) VALUES(?,?,?,?,?,?,?,?)`)
	insertDiagnosis, _ := s.db.Prepare(`INSERT INTO diagnoses(ts,worker_id,field_id,disease,confidence,explanation) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEvent, upsertField, upsertWorker, insertMarket, insertDiagnosis} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for ev := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)

		if insertEvent != nil {
			if _, err := tx.Stmt(insertEvent).Exec(now, ev.Type, string(ev.Payload)); err != nil {
				rollback()
				continue
			}
			opCount++
		}

		switch ev.Type {
		case protocol.EventFieldUpdate:
			var u protocol.FieldUpdate
			if json.Unmarshal(ev.Payload, &u) != nil || upsertField == nil {
				break
			}
			if _, err := tx.Stmt(upsertField).Exec(
				u.FieldID, u.Crop, u.Moisture, u.Health, u.ScanLevel, u.Growth, u.Disease, now,
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case protocol.EventWorkerUpdate:
			var u protocol.WorkerUpdate
			if json.Unmarshal(ev.Payload, &u) != nil || upsertWorker == nil {
				break
			}
			if _, err := tx.Stmt(upsertWorker).Exec(
				u.WorkerID, u.Role, u.Battery, u.Location, u.State, u.Carrying, now,
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case protocol.EventMarketEvent:
			var u protocol.MarketEvent
			if json.Unmarshal(ev.Payload, &u) != nil || insertMarket == nil {
				break
			}
			if _, err := tx.Stmt(insertMarket).Exec(
				now, u.Kind, u.Party, u.Item, u.Quantity, u.Price, u.HighBid, u.Payment,
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case protocol.EventAIResult:
			var u protocol.AIResult
			if json.Unmarshal(ev.Payload, &u) != nil || insertDiagnosis == nil {
				break
			}
			if _, err := tx.Stmt(insertDiagnosis).Exec(
				now, u.WorkerID, u.FieldID, u.Disease, u.Confidence, u.Explanation,
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		flushIfNeeded()
	}

	commit()
}
