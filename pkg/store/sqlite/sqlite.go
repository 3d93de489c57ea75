// Package sqlite is the SQL store backend, a single-file database in WAL
// mode. Kind, time window, tag and pubkey-prefix predicates all narrow in
// SQL over their indexes; the Go-side match stays authoritative so every
// backend returns identical results.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
	"aether.dev/pkg/encoders/kind"
	"aether.dev/pkg/store"
	"aether.dev/pkg/utils/chk"
	"aether.dev/pkg/utils/context"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         BLOB PRIMARY KEY,
	pubkey     BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	kind       INTEGER NOT NULL,
	tags       TEXT NOT NULL,
	content    BLOB NOT NULL,
	sig        BLOB NOT NULL,
	repl_key   BLOB
);
CREATE TABLE IF NOT EXISTS seen_ids (id BLOB PRIMARY KEY);
CREATE TABLE IF NOT EXISTS tag_index (
	event_id  BLOB NOT NULL,
	tag_key   TEXT NOT NULL,
	tag_value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS events_created ON events (created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS events_repl ON events (repl_key)
	WHERE repl_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS events_kind ON events (kind);
CREATE INDEX IF NOT EXISTS events_pubkey ON events (pubkey);
CREATE INDEX IF NOT EXISTS tag_index_kv ON tag_index (tag_key, tag_value, event_id);
CREATE INDEX IF NOT EXISTS tag_index_event ON tag_index (event_id);
`

// S is the SQLite store.
type S struct {
	db *sql.DB

	// one writer at a time keeps Put linearizable per replaceable key
	mx sync.Mutex
}

var _ store.I = (*S)(nil)

// New opens (creating if needed) the database at path and applies the
// schema.
func New(path string) (s *S, err error) {
	var db *sql.DB
	if db, err = sql.Open(
		"sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000",
	); chk.E(err) {
		return
	}
	if _, err = db.Exec(schema); chk.E(err) {
		db.Close()
		return nil, err
	}
	return &S{db: db}, nil
}

// Put implements the kind-class storage semantics inside one transaction.
func (s *S) Put(c context.T, ev *event.E) (r store.Result, err error) {
	if kind.IsEphemeral(ev.Kind) {
		return store.Result{Status: store.Inserted}, nil
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	var tx *sql.Tx
	if tx, err = s.db.BeginTx(c, nil); chk.E(err) {
		return
	}
	defer tx.Rollback()
	var n int
	if err = tx.QueryRowContext(
		c, `SELECT COUNT(*) FROM seen_ids WHERE id = ?`, ev.ID,
	).Scan(&n); chk.E(err) {
		return
	}
	if n > 0 {
		return store.Result{Status: store.Duplicate}, nil
	}
	if _, err = tx.ExecContext(
		c, `INSERT INTO seen_ids (id) VALUES (?)`, ev.ID,
	); chk.E(err) {
		return
	}
	rk := store.ReplKey(ev)
	if rk != nil {
		var incumbent *event.E
		if incumbent, err = scanOne(tx.QueryRowContext(
			c, selectCols+` FROM events WHERE repl_key = ?`, rk,
		)); chk.E(err) {
			return
		}
		if incumbent != nil {
			if !store.Wins(ev, incumbent) {
				r = store.Result{Status: store.Duplicate}
				err = tx.Commit()
				return
			}
			if err = remove(c, tx, incumbent.ID); chk.E(err) {
				return
			}
			if err = insert(c, tx, ev, rk); chk.E(err) {
				return
			}
			r = store.Result{Status: store.Replaced, OldID: incumbent.ID}
			err = tx.Commit()
			return
		}
	}
	if err = insert(c, tx, ev, rk); chk.E(err) {
		return
	}
	r = store.Result{Status: store.Inserted}
	err = tx.Commit()
	return
}

const selectCols = `SELECT id, pubkey, created_at, kind, tags, content, sig`

func insert(c context.T, tx *sql.Tx, ev *event.E, rk []byte) (err error) {
	var tags []byte
	if tags, err = json.Marshal(ev.Tags); chk.E(err) {
		return
	}
	if _, err = tx.ExecContext(
		c, `INSERT INTO events
			(id, pubkey, created_at, kind, tags, content, sig, repl_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Pubkey, int64(ev.CreatedAt), int64(ev.Kind), string(tags),
		ev.Content, ev.Sig, rk,
	); chk.E(err) {
		return
	}
	for _, t := range ev.Tags {
		for _, v := range t.Values {
			if _, err = tx.ExecContext(
				c, `INSERT INTO tag_index (event_id, tag_key, tag_value)
					VALUES (?, ?, ?)`,
				ev.ID, t.Key, v,
			); chk.E(err) {
				return
			}
		}
	}
	return
}

// remove deletes an event and its tag index rows.
func remove(c context.T, tx *sql.Tx, id []byte) (err error) {
	if _, err = tx.ExecContext(
		c, `DELETE FROM tag_index WHERE event_id = ?`, id,
	); chk.E(err) {
		return
	}
	_, err = tx.ExecContext(c, `DELETE FROM events WHERE id = ?`, id)
	return
}

// prefixUpper is the smallest blob greater than every blob with the given
// prefix, or nil when no such bound exists (all 0xFF).
func prefixUpper(p []byte) (hi []byte) {
	hi = append([]byte{}, p...)
	for i := len(hi) - 1; i >= 0; i-- {
		if hi[i] < 0xff {
			hi[i]++
			return hi[:i+1]
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (ev *event.E, err error) {
	ev = event.New()
	var createdAt, k int64
	var tags string
	if err = row.Scan(
		&ev.ID, &ev.Pubkey, &createdAt, &k, &tags, &ev.Content, &ev.Sig,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	ev.CreatedAt = uint64(createdAt)
	ev.Kind = uint16(k)
	if err = json.Unmarshal([]byte(tags), &ev.Tags); chk.E(err) {
		return nil, err
	}
	return
}

// Get fetches a live event by id.
func (s *S) Get(c context.T, id []byte) (ev *event.E, err error) {
	return scanOne(s.db.QueryRowContext(
		c, selectCols+` FROM events WHERE id = ?`, id,
	))
}

// Query narrows with SQL where it can and finishes the match in Go, walking
// rows newest first until the limit fills.
func (s *S) Query(c context.T, f *filter.F) (evs event.S, err error) {
	var sb strings.Builder
	sb.WriteString(selectCols + ` FROM events`)
	var args []any
	var conds []string
	if f.Kinds != nil {
		ph := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			ph[i] = "?"
			args = append(args, int64(k))
		}
		conds = append(conds, `kind IN (`+strings.Join(ph, ",")+`)`)
	}
	if len(f.Tags) > 0 {
		// AND across keys: one membership test per key over the tag index
		keys := make([]string, 0, len(f.Tags))
		for k := range f.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			values := f.Tags[k]
			ph := make([]string, len(values))
			args = append(args, k)
			for i, v := range values {
				ph[i] = "?"
				args = append(args, v)
			}
			conds = append(conds,
				`id IN (SELECT event_id FROM tag_index
					WHERE tag_key = ? AND tag_value IN (`+
					strings.Join(ph, ",")+`))`)
		}
	}
	if f.PubkeyPrefixes != nil {
		var ors []string
		for _, p := range f.PubkeyPrefixes {
			if hi := prefixUpper(p); hi == nil {
				ors = append(ors, `pubkey >= ?`)
				args = append(args, p)
			} else {
				ors = append(ors, `(pubkey >= ? AND pubkey < ?)`)
				args = append(args, p, hi)
			}
		}
		if len(ors) == 0 {
			ors = append(ors, `0`)
		}
		conds = append(conds, `(`+strings.Join(ors, ` OR `)+`)`)
	}
	if f.Since != nil {
		conds = append(conds, `created_at >= ?`)
		args = append(args, int64(*f.Since))
	}
	if f.Until != nil {
		conds = append(conds, `created_at <= ?`)
		args = append(args, int64(*f.Until))
	}
	if len(conds) > 0 {
		sb.WriteString(` WHERE ` + strings.Join(conds, ` AND `))
	}
	sb.WriteString(` ORDER BY created_at DESC, id DESC`)
	var rows *sql.Rows
	if rows, err = s.db.QueryContext(c, sb.String(), args...); chk.E(err) {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var ev *event.E
		if ev, err = scanOne(rows); chk.E(err) {
			return
		}
		if !f.Match(ev) {
			continue
		}
		evs = append(evs, ev)
		if f.Limit != nil && uint(len(evs)) >= *f.Limit {
			break
		}
	}
	err = rows.Err()
	return
}

// Count reports the live event count.
func (s *S) Count(c context.T) (n int, err error) {
	err = s.db.QueryRowContext(c, `SELECT COUNT(*) FROM events`).Scan(&n)
	chk.E(err)
	return
}

// GC drops immutable events created before cutoff, tag index rows included.
func (s *S) GC(c context.T, cutoff uint64) (n int, err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if _, err = s.db.ExecContext(
		c, `DELETE FROM tag_index WHERE event_id IN
			(SELECT id FROM events WHERE kind <= ? AND created_at < ?)`,
		int64(kind.ImmutableEnd), int64(cutoff),
	); chk.E(err) {
		return
	}
	var res sql.Result
	if res, err = s.db.ExecContext(
		c, `DELETE FROM events WHERE kind <= ? AND created_at < ?`,
		int64(kind.ImmutableEnd), int64(cutoff),
	); chk.E(err) {
		return
	}
	var affected int64
	if affected, err = res.RowsAffected(); chk.E(err) {
		return
	}
	return int(affected), nil
}

// Close closes the database.
func (s *S) Close() (err error) { return s.db.Close() }
