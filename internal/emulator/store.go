package emulator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ratlabs/vecstore/internal/vectorstore"
	_ "modernc.org/sqlite"
)

// apiError carries the HTTP status the server answers with.
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

func errorf(status int, format string, args ...any) error {
	return &apiError{status: status, msg: fmt.Sprintf(format, args...)}
}

// Store persists indexes, vectors and collections in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at dbPath. An empty path or
// ":memory:" keeps everything in memory.
func NewStore(dbPath string) (*Store, error) {
	inMemory := dbPath == "" || dbPath == ":memory:"
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if inMemory {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open emulator db: %w", err)
	}
	if inMemory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type indexRow struct {
	spec  vectorstore.IndexDatabase
	state vectorstore.IndexState
	until int64
}

const indexColumns = `name, dimension, metric, replicas, shards, pods, pod_type, metadata_config, source_collection, state, state_until`

func scanIndex(row interface{ Scan(...any) error }) (indexRow, error) {
	var r indexRow
	var metric, podType, metaCfg, state string
	err := row.Scan(&r.spec.Name, &r.spec.Dimension, &metric, &r.spec.Replicas, &r.spec.Shards,
		&r.spec.Pods, &podType, &metaCfg, &r.spec.SourceCollection, &state, &r.until)
	if err != nil {
		return r, err
	}
	r.spec.Metric = vectorstore.Metric(metric)
	r.state = vectorstore.IndexState(state)
	if err := r.spec.PodType.UnmarshalText([]byte(podType)); err != nil {
		return r, fmt.Errorf("index %s: %w", r.spec.Name, err)
	}
	if metaCfg != "" {
		var mc vectorstore.MetadataConfig
		if err := json.Unmarshal([]byte(metaCfg), &mc); err == nil {
			r.spec.MetadataConfig = &mc
		}
	}
	return r, nil
}

// settle moves transient states whose deadline has passed: scaling and
// initializing indexes become Ready, terminating ones are purged.
func (s *Store) settle(ctx context.Context, now time.Time) error {
	ts := now.UnixNano()
	if _, err := s.db.ExecContext(ctx, `
		UPDATE indexes SET state = ?, state_until = 0
		WHERE state IN (?, ?, ?) AND state_until <= ?
	`, string(vectorstore.StateReady), string(vectorstore.StateInitializing), string(vectorstore.StateScalingUp),
		string(vectorstore.StateScalingDown), ts); err != nil {
		return fmt.Errorf("settle index states: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM indexes WHERE state = ? AND state_until <= ?`, string(vectorstore.StateTerminating), ts)
	if err != nil {
		return fmt.Errorf("settle index states: %w", err)
	}
	var gone []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		gone = append(gone, name)
	}
	rows.Close()
	for _, name := range gone {
		if err := s.purgeIndex(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) purgeIndex(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE index_name = ?`, name); err != nil {
		return fmt.Errorf("purge index %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE name = ?`, name); err != nil {
		return fmt.Errorf("purge index %s: %w", name, err)
	}
	return tx.Commit()
}

func (s *Store) index(ctx context.Context, name string) (indexRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+indexColumns+` FROM indexes WHERE name = ?`, name)
	r, err := scanIndex(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, errorf(http.StatusNotFound, "index %s not found", name)
	}
	return r, err
}

func (s *Store) listIndexes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM indexes ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Store) podsInUse(ctx context.Context, exclude string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(pods), 0) FROM indexes WHERE name != ?`, exclude).Scan(&n)
	return n, err
}

// transient returns the state to enter now, collapsing to Ready when no
// delay is configured.
func transient(state vectorstore.IndexState, now time.Time, delay time.Duration) (vectorstore.IndexState, int64) {
	if delay <= 0 {
		return vectorstore.StateReady, 0
	}
	return state, now.Add(delay).UnixNano()
}

func (s *Store) createIndex(ctx context.Context, req vectorstore.CreateIndexRequest, now time.Time, delay time.Duration, maxPods int) error {
	if err := req.Validate(); err != nil {
		return errorf(http.StatusBadRequest, "%v", err)
	}
	req = req.WithDefaults()
	if req.Pods < req.Shards*req.Replicas {
		return errorf(http.StatusBadRequest, "pods (%d) must be at least shards*replicas (%d)", req.Pods, req.Shards*req.Replicas)
	}
	if _, err := s.index(ctx, req.Name); err == nil {
		return errorf(http.StatusConflict, "index %s already exists", req.Name)
	}
	used, err := s.podsInUse(ctx, req.Name)
	if err != nil {
		return err
	}
	if used+req.Pods > maxPods {
		return errorf(http.StatusForbidden, "quota exceeded: %d pods in use, %d requested, limit %d", used, req.Pods, maxPods)
	}
	if req.SourceCollection != "" {
		col, err := s.collection(ctx, req.SourceCollection)
		if err != nil {
			return err
		}
		if col.Dimension != req.Dimension {
			return errorf(http.StatusBadRequest, "dimension %d does not match source collection dimension %d", req.Dimension, col.Dimension)
		}
	}

	var metaCfg string
	if req.MetadataConfig != nil {
		b, _ := json.Marshal(req.MetadataConfig)
		metaCfg = string(b)
	}
	state, until := transient(vectorstore.StateInitializing, now, delay)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO indexes (`+indexColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.Name, req.Dimension, string(req.Metric), req.Replicas, req.Shards, req.Pods, req.PodType.String(),
		metaCfg, req.SourceCollection, string(state), until)
	if err != nil {
		return fmt.Errorf("insert index: %w", err)
	}
	if req.SourceCollection != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO vectors (index_name, namespace, id, embedding, metadata)
			SELECT ?, namespace, id, embedding, metadata FROM collection_vectors WHERE collection = ?
		`, req.Name, req.SourceCollection)
		if err != nil {
			return fmt.Errorf("restore collection %s: %w", req.SourceCollection, err)
		}
	}
	return tx.Commit()
}

func (s *Store) configureIndex(ctx context.Context, name string, req vectorstore.ConfigureIndexRequest, now time.Time, delay time.Duration, maxPods int) error {
	if err := req.Validate(); err != nil {
		return errorf(http.StatusBadRequest, "%v", err)
	}
	row, err := s.index(ctx, name)
	if err != nil {
		return err
	}
	switch row.state {
	case vectorstore.StateTerminating:
		return errorf(http.StatusNotFound, "index %s not found", name)
	case vectorstore.StateInitializing:
		return errorf(http.StatusConflict, "index %s is still initializing", name)
	}
	replicas, podType := row.spec.Replicas, row.spec.PodType
	if req.Replicas != nil {
		replicas = *req.Replicas
	}
	if req.PodType != nil {
		if req.PodType.Family != podType.Family {
			return errorf(http.StatusBadRequest, "cannot change pod family from %s to %s", podType.Family, req.PodType.Family)
		}
		podType = *req.PodType
	}
	pods := row.spec.Shards * replicas
	used, err := s.podsInUse(ctx, name)
	if err != nil {
		return err
	}
	if used+pods > maxPods {
		return errorf(http.StatusForbidden, "quota exceeded: %d pods in use, %d requested, limit %d", used, pods, maxPods)
	}

	state, until := row.state, row.until
	switch {
	case replicas > row.spec.Replicas || podType != row.spec.PodType:
		state, until = transient(vectorstore.StateScalingUp, now, delay)
	case replicas < row.spec.Replicas:
		state, until = transient(vectorstore.StateScalingDown, now, delay)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE indexes SET replicas = ?, pods = ?, pod_type = ?, state = ?, state_until = ?
		WHERE name = ?
	`, replicas, pods, podType.String(), string(state), until, name)
	if err != nil {
		return fmt.Errorf("configure index %s: %w", name, err)
	}
	return nil
}

func (s *Store) deleteIndex(ctx context.Context, name string, now time.Time, delay time.Duration) error {
	row, err := s.index(ctx, name)
	if err != nil {
		return err
	}
	if row.state == vectorstore.StateTerminating {
		return errorf(http.StatusNotFound, "index %s not found", name)
	}
	if delay <= 0 {
		return s.purgeIndex(ctx, name)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE indexes SET state = ?, state_until = ? WHERE name = ?`,
		string(vectorstore.StateTerminating), now.Add(delay).UnixNano(), name)
	return err
}

func encodeMetadata(md vectorstore.Metadata) (string, error) {
	if len(md) == 0 {
		return "", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(s string) (vectorstore.Metadata, error) {
	if s == "" {
		return nil, nil
	}
	var md vectorstore.Metadata
	if err := json.Unmarshal([]byte(s), &md); err != nil {
		return nil, err
	}
	return md, nil
}

func (s *Store) upsert(ctx context.Context, index, namespace string, records []vectorstore.Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (index_name, namespace, id, embedding, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(index_name, namespace, id) DO UPDATE SET
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, r := range records {
		md, err := encodeMetadata(r.Metadata)
		if err != nil {
			return 0, errorf(http.StatusBadRequest, "vector %s: %v", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, index, namespace, r.ID, encodeFloat32s(r.Values), md); err != nil {
			return 0, fmt.Errorf("upsert vector %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(records), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func scanRecords(rows *sql.Rows) ([]vectorstore.Record, error) {
	defer rows.Close()
	var out []vectorstore.Record
	for rows.Next() {
		var r vectorstore.Record
		var blob []byte
		var md string
		if err := rows.Scan(&r.ID, &blob, &md); err != nil {
			return nil, err
		}
		r.Values = decodeFloat32s(blob)
		meta, err := decodeMetadata(md)
		if err != nil {
			return nil, fmt.Errorf("vector %s metadata: %w", r.ID, err)
		}
		r.Metadata = meta
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) fetch(ctx context.Context, index, namespace string, ids []string) ([]vectorstore.Record, error) {
	args := []any{index, namespace}
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding, metadata FROM vectors
		WHERE index_name = ? AND namespace = ? AND id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *Store) get(ctx context.Context, index, namespace, id string) (vectorstore.Record, bool, error) {
	recs, err := s.fetch(ctx, index, namespace, []string{id})
	if err != nil || len(recs) == 0 {
		return vectorstore.Record{}, false, err
	}
	return recs[0], true, nil
}

// scan returns every record of one namespace ordered by ID.
func (s *Store) scan(ctx context.Context, index, namespace string) ([]vectorstore.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding, metadata FROM vectors
		WHERE index_name = ? AND namespace = ?
		ORDER BY id
	`, index, namespace)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *Store) namespaces(ctx context.Context, index string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, COUNT(*) FROM vectors WHERE index_name = ? GROUP BY namespace
	`, index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var ns string
		var n int64
		if err := rows.Scan(&ns, &n); err != nil {
			return nil, err
		}
		out[ns] = n
	}
	return out, rows.Err()
}

func (s *Store) replace(ctx context.Context, index, namespace string, r vectorstore.Record) error {
	md, err := encodeMetadata(r.Metadata)
	if err != nil {
		return errorf(http.StatusBadRequest, "vector %s: %v", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE vectors SET embedding = ?, metadata = ?, updated_at = CURRENT_TIMESTAMP
		WHERE index_name = ? AND namespace = ? AND id = ?
	`, encodeFloat32s(r.Values), md, index, namespace, r.ID)
	return err
}

func (s *Store) deleteIDs(ctx context.Context, index, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{index, namespace}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM vectors WHERE index_name = ? AND namespace = ? AND id IN (`+placeholders(len(ids))+`)
	`, args...)
	return err
}

func (s *Store) deleteNamespace(ctx context.Context, index, namespace string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE index_name = ? AND namespace = ?`, index, namespace)
	return err
}

func (s *Store) collection(ctx context.Context, name string) (vectorstore.CollectionDescription, error) {
	var c vectorstore.CollectionDescription
	err := s.db.QueryRowContext(ctx, `
		SELECT name, source, dimension, size, vector_count FROM collections WHERE name = ?
	`, name).Scan(&c.Name, &c.Source, &c.Dimension, &c.Size, &c.VectorCount)
	if errors.Is(err, sql.ErrNoRows) {
		return c, errorf(http.StatusNotFound, "collection %s not found", name)
	}
	c.Status = "Ready"
	return c, err
}

func (s *Store) listCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// createCollection snapshots every namespace of the source index.
func (s *Store) createCollection(ctx context.Context, req vectorstore.CreateCollectionRequest) error {
	if err := req.Validate(); err != nil {
		return errorf(http.StatusBadRequest, "%v", err)
	}
	src, err := s.index(ctx, req.Source)
	if err != nil {
		return err
	}
	if src.state == vectorstore.StateTerminating {
		return errorf(http.StatusNotFound, "index %s not found", req.Source)
	}
	if _, err := s.collection(ctx, req.Name); err == nil {
		return errorf(http.StatusConflict, "collection %s already exists", req.Name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO collection_vectors (collection, namespace, id, embedding, metadata)
		SELECT ?, namespace, id, embedding, metadata FROM vectors WHERE index_name = ?
	`, req.Name, req.Source)
	if err != nil {
		return fmt.Errorf("snapshot index %s: %w", req.Source, err)
	}
	var size, count int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(LENGTH(embedding)), 0), COUNT(*) FROM collection_vectors WHERE collection = ?
	`, req.Name).Scan(&size, &count)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO collections (name, source, dimension, metric, size, vector_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, req.Name, req.Source, src.spec.Dimension, string(src.spec.Metric), size, count)
	if err != nil {
		return fmt.Errorf("insert collection: %w", err)
	}
	return tx.Commit()
}

func (s *Store) deleteCollection(ctx context.Context, name string) error {
	if _, err := s.collection(ctx, name); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM collection_vectors WHERE collection = ?`, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return err
	}
	return tx.Commit()
}
