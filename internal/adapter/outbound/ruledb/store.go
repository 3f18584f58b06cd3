// Package ruledb implements the Execution-Rule Store (§4.3) on top of
// modernc.org/sqlite, following the durable-state conventions of the
// teacher's adapter/outbound/state package (file locking, fatal-on-locked,
// recreate-on-corruption) adapted to a SQL schema instead of a JSON blob.
package ruledb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/santa-policy/core/internal/domain/execrule"
	"github.com/santa-policy/core/internal/domain/watchitem"

	"github.com/santa-policy/core/internal/adapter/outbound/dblock"
	"github.com/santa-policy/core/internal/telemetry"
)

// ErrDatabaseLocked is returned by Open when another process already holds
// the database's file lock (§4.3.4, §7 DatabaseLocked: fatal, caller
// aborts startup).
var ErrDatabaseLocked = errors.New("ruledb: database locked by another process")

// defaultChurnThreshold is the heuristic's high-churn cutoff (§4.3.3),
// exposed as a tunable per SPEC_FULL.md's §3 decision.
const defaultChurnThreshold = 500

// staleTransitiveRetention is the default prune-stale-transitive window
// (§4.3.1, GLOSSARY "Transitive rule").
const staleTransitiveRetention = 6 * 30 * 24 * time.Hour

// Store implements execrule.Store against a sqlite database file.
type Store struct {
	db       *sql.DB
	lockFile *os.File
	path     string
	logger   *slog.Logger

	validator execrule.CELValidator

	staticMu sync.RWMutex
	static   []execrule.Rule

	ChurnThreshold int

	cbMu sync.Mutex
	onFileAccessRulesChanged watchitem.RuleChangeCallback

	nowFn func() time.Time
}

// Open opens (creating if absent) the sqlite database at path, acquiring a
// non-blocking cross-process lock. If the lock is already held, Open
// returns ErrDatabaseLocked and the caller must abort startup (§4.3.4). If
// the file is corrupt or its schema is newer than this code supports, it is
// truncated and recreated (§7 CorruptRuleDatabase).
func Open(path string, logger *slog.Logger, validator execrule.CELValidator) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lockFile, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("ruledb: open lock file: %w", err)
	}
	if err := dblock.TryLock(lockFile.Fd()); err != nil {
		_ = lockFile.Close()
		if errors.Is(err, dblock.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseLocked, path)
		}
		return nil, fmt.Errorf("ruledb: acquire lock: %w", err)
	}

	db, err := openAndMigrate(path, logger)
	if err != nil {
		_ = dblock.Unlock(lockFile.Fd())
		_ = lockFile.Close()
		return nil, err
	}

	return &Store{
		db:             db,
		lockFile:       lockFile,
		path:           path,
		logger:         logger,
		validator:      validator,
		ChurnThreshold: defaultChurnThreshold,
		nowFn:          time.Now,
	}, nil
}

// openAndMigrate opens the database and runs migrations, recreating the
// file once if it is corrupt or its stored schema version can't be
// migrated.
func openAndMigrate(path string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ruledb: open database: %w", err)
	}

	if pingErr := db.Ping(); pingErr != nil {
		logger.Warn("ruledb: database unreachable, recreating", "path", path, "error", pingErr)
		_ = db.Close()
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("ruledb: remove corrupt database: %w", rmErr)
		}
		db, err = sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("ruledb: reopen database: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		logger.Warn("ruledb: schema migration failed, recreating database", "path", path, "error", err)
		_ = db.Close()
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("ruledb: remove database after failed migration: %w", rmErr)
		}
		db, err = sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("ruledb: reopen database after recreate: %w", err)
		}
		if err := migrate(db); err != nil {
			return nil, fmt.Errorf("ruledb: migrate freshly recreated database: %w", err)
		}
	}

	return db, nil
}

// Close releases the database handle and the cross-process lock.
func (s *Store) Close() error {
	err := s.db.Close()
	_ = dblock.Unlock(s.lockFile.Fd())
	_ = s.lockFile.Close()
	return err
}

// SetFileAccessRuleChangeCallback registers the observer invoked by
// UpsertFileAccessRules with the new total count.
func (s *Store) SetFileAccessRuleChangeCallback(cb watchitem.RuleChangeCallback) {
	s.cbMu.Lock()
	s.onFileAccessRulesChanged = cb
	s.cbMu.Unlock()
}

// UpdateStaticRules atomically replaces the static overlay (§4.3.1).
// Static rules are never persisted to the database.
func (s *Store) UpdateStaticRules(rules []execrule.Rule) error {
	var errs []error
	accepted := make([]execrule.Rule, 0, len(rules))
	for i, r := range rules {
		r.IsStatic = true
		if err := r.Validate(s.validator); err != nil {
			errs = append(errs, &execrule.RuleError{Index: i, Rule: r, Err: err})
			continue
		}
		accepted = append(accepted, r.NormalizeTimestamp(s.now))
	}

	s.staticMu.Lock()
	s.static = accepted
	s.staticMu.Unlock()

	return errors.Join(errs...)
}

func (s *Store) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

// CriticalSystemBinaries returns the hard-coded, startup-seeded set of OS
// signing-ids whose misclassification would brick the host (§4.3.1,
// GLOSSARY "Critical system binary"). It is mandatory-allow and never
// reloaded dynamically (§6.5).
func (s *Store) CriticalSystemBinaries() map[string]execrule.Rule {
	out := make(map[string]execrule.Rule, len(criticalSystemBinarySigningIDs))
	for _, sid := range criticalSystemBinarySigningIDs {
		out[sid] = execrule.Rule{
			IdentifierValue: sid,
			IdentifierKind:  execrule.KindSigningID,
			State:           execrule.StateAllowLocal,
		}
	}
	return out
}

// Compile-time interface verification.
var _ execrule.Store = (*Store)(nil)

// findStored looks up the stored (non-static) rule for (kind, identifier).
// Returns ok=false if none exists.
func (s *Store) findStored(ctx context.Context, kind execrule.Kind, identifier string) (execrule.Rule, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT identifier, kind, state, custom_message, custom_url, timestamp, cel_expression
		 FROM rules WHERE identifier = ? AND kind = ?`, identifier, string(kind))
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return execrule.Rule{}, false, nil
	}
	if err != nil {
		return execrule.Rule{}, false, err
	}
	return r, true, nil
}

func scanRule(row *sql.Row) (execrule.Rule, error) {
	var r execrule.Rule
	var kind, state string
	if err := row.Scan(&r.IdentifierValue, &kind, &state, &r.CustomMessage, &r.CustomURL, &r.Timestamp, &r.CELExpression); err != nil {
		return execrule.Rule{}, err
	}
	r.IdentifierKind = execrule.Kind(kind)
	r.State = execrule.State(state)
	return r, nil
}

// findStaticLocked searches the static overlay for (kind, identifier).
// Caller must hold staticMu for reading.
func (s *Store) findStaticLocked(kind execrule.Kind, identifier string) (execrule.Rule, bool) {
	for _, r := range s.static {
		if r.IdentifierKind == kind && r.IdentifierValue == identifier {
			return r, true
		}
	}
	return execrule.Rule{}, false
}

// Lookup resolves ids to the highest-precedence matching rule: the static
// overlay first, then the durable store, both walked in PrecedenceOrder
// (§4.3.1). A matched AllowTransitive rule's timestamp is refreshed as a
// side effect.
func (s *Store) Lookup(ctx context.Context, ids execrule.IdentifierSet) (*execrule.Rule, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ruledb.Lookup")
	defer span.End()

	s.staticMu.RLock()
	for _, kind := range execrule.PrecedenceOrder {
		val, present := ids.Get(kind)
		if !present {
			continue
		}
		if r, ok := s.findStaticLocked(kind, val); ok {
			s.staticMu.RUnlock()
			return &r, nil
		}
	}
	s.staticMu.RUnlock()

	for _, kind := range execrule.PrecedenceOrder {
		val, present := ids.Get(kind)
		if !present {
			continue
		}
		r, ok, err := s.findStored(ctx, kind, val)
		if err != nil {
			return nil, fmt.Errorf("ruledb: lookup: %w", err)
		}
		if !ok {
			continue
		}
		if r.State == execrule.StateAllowTransitive {
			refreshed := s.now().UTC().Unix()
			if _, err := s.db.ExecContext(ctx,
				`UPDATE rules SET timestamp = ? WHERE identifier = ? AND kind = ?`,
				refreshed, r.IdentifierValue, string(r.IdentifierKind)); err != nil {
				s.logger.Warn("ruledb: failed to refresh transitive timestamp", "error", err)
			} else {
				r.Timestamp = refreshed
			}
		}
		return &r, nil
	}
	return nil, nil
}

// Upsert applies batch transactionally: any InvalidRule error rejects the
// whole batch with no DB change. An InvalidCELExpression rule is dropped
// and reported while the rest of the batch still commits (§4.3.1, §7).
func (s *Store) Upsert(ctx context.Context, batch []execrule.Rule, cleanup execrule.Cleanup) (execrule.UpsertResult, error) {
	if len(batch) == 0 {
		return execrule.UpsertResult{}, execrule.ErrEmptyBatch
	}

	var fatalErrs, celDropped []error
	valid := make([]execrule.Rule, 0, len(batch))
	for i, r := range batch {
		if err := r.Validate(s.validator); err != nil {
			if errors.Is(err, execrule.ErrInvalidCELExpression) {
				celDropped = append(celDropped, &execrule.RuleError{Index: i, Rule: r, Err: err})
				continue
			}
			fatalErrs = append(fatalErrs, &execrule.RuleError{Index: i, Rule: r, Err: err})
			continue
		}
		valid = append(valid, r.NormalizeTimestamp(s.now))
	}

	if len(fatalErrs) > 0 {
		return execrule.UpsertResult{Errors: append(fatalErrs, celDropped...)}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return execrule.UpsertResult{}, fmt.Errorf("ruledb: begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	switch cleanup {
	case execrule.CleanupAll:
		if _, err := tx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
			return execrule.UpsertResult{}, fmt.Errorf("ruledb: cleanup all: %w", err)
		}
	case execrule.CleanupNonTransitive:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM rules WHERE state NOT IN (?, ?)`,
			string(execrule.StateAllowTransitive), string(execrule.StateAllowPendingTransitive)); err != nil {
			return execrule.UpsertResult{}, fmt.Errorf("ruledb: cleanup non-transitive: %w", err)
		}
	}

	inserted := 0
	for _, r := range valid {
		if r.State == execrule.StateRemove {
			if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE identifier = ? AND kind = ?`,
				r.IdentifierValue, string(r.IdentifierKind)); err != nil {
				return execrule.UpsertResult{}, fmt.Errorf("ruledb: remove rule: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rules (identifier, kind, state, custom_message, custom_url, timestamp, cel_expression)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(identifier, kind) DO UPDATE SET
			   state = excluded.state,
			   custom_message = excluded.custom_message,
			   custom_url = excluded.custom_url,
			   timestamp = excluded.timestamp,
			   cel_expression = excluded.cel_expression`,
			r.IdentifierValue, string(r.IdentifierKind), string(r.State),
			r.CustomMessage, r.CustomURL, r.Timestamp, r.CELExpression); err != nil {
			return execrule.UpsertResult{}, fmt.Errorf("ruledb: upsert rule: %w", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return execrule.UpsertResult{}, fmt.Errorf("ruledb: commit upsert: %w", err)
	}

	return execrule.UpsertResult{Inserted: inserted, Errors: celDropped}, nil
}

// UpsertFileAccessRules applies batch to the file_access_rules table and
// invokes the registered callback with the new count on success.
func (s *Store) UpsertFileAccessRules(ctx context.Context, batch []watchitem.FileAccessRule) (execrule.UpsertResult, error) {
	if len(batch) == 0 {
		return execrule.UpsertResult{}, execrule.ErrEmptyBatch
	}

	var errs []error
	valid := make([]watchitem.FileAccessRule, 0, len(batch))
	for i, r := range batch {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("file-access-rule[%d] %q: %w", i, r.Name, err))
			continue
		}
		valid = append(valid, r)
	}
	if len(errs) > 0 {
		return execrule.UpsertResult{Errors: errs}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return execrule.UpsertResult{}, fmt.Errorf("ruledb: begin file-access-rule upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range valid {
		if r.Directive == watchitem.DirectiveRemove {
			if _, err := tx.ExecContext(ctx, `DELETE FROM file_access_rules WHERE name = ?`, r.Name); err != nil {
				return execrule.UpsertResult{}, fmt.Errorf("ruledb: remove file-access-rule: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO file_access_rules (name, detail) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET detail = excluded.detail`,
			r.Name, r.Detail); err != nil {
			return execrule.UpsertResult{}, fmt.Errorf("ruledb: upsert file-access-rule: %w", err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_access_rules`).Scan(&count); err != nil {
		return execrule.UpsertResult{}, fmt.Errorf("ruledb: count file-access-rules: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return execrule.UpsertResult{}, fmt.Errorf("ruledb: commit file-access-rule upsert: %w", err)
	}

	s.cbMu.Lock()
	cb := s.onFileAccessRulesChanged
	s.cbMu.Unlock()
	if cb != nil {
		cb(count)
	}

	return execrule.UpsertResult{Inserted: len(valid)}, nil
}

// CountByKind reports operational counts (§4.3.1).
func (s *Store) CountByKind(ctx context.Context) (execrule.KindCounts, error) {
	var out execrule.KindCounts

	rows, err := s.db.QueryContext(ctx, `SELECT kind, state, COUNT(*) FROM rules GROUP BY kind, state`)
	if err != nil {
		return out, fmt.Errorf("ruledb: count by kind: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var kind, state string
		var n int
		if err := rows.Scan(&kind, &state, &n); err != nil {
			return out, fmt.Errorf("ruledb: scan count: %w", err)
		}
		switch execrule.Kind(kind) {
		case execrule.KindBinaryHash:
			out.Binary += n
		case execrule.KindCertificateHash:
			out.Certificate += n
		case execrule.KindTeamID:
			out.TeamID += n
		case execrule.KindSigningID:
			out.SigningID += n
		case execrule.KindCDHash:
			out.CDHash += n
		}
		if execrule.State(state) == execrule.StateAllowCompiler {
			out.Compiler += n
		}
		if execrule.State(state).IsTransitive() {
			out.Transitive += n
		}
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_access_rules`).Scan(&out.FileAccess); err != nil {
		return out, fmt.Errorf("ruledb: count file-access-rules: %w", err)
	}

	return out, nil
}

// RetrieveAll exports every stored rule ordered by (kind, identifier) so a
// re-import via clean Upsert reproduces the same HashOfHashes (§6.2).
func (s *Store) RetrieveAll(ctx context.Context) ([]execrule.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier, kind, state, custom_message, custom_url, timestamp, cel_expression
		 FROM rules ORDER BY kind, identifier`)
	if err != nil {
		return nil, fmt.Errorf("ruledb: retrieve all: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []execrule.Rule
	for rows.Next() {
		var r execrule.Rule
		var kind, state string
		if err := rows.Scan(&r.IdentifierValue, &kind, &state, &r.CustomMessage, &r.CustomURL, &r.Timestamp, &r.CELExpression); err != nil {
			return nil, fmt.Errorf("ruledb: scan rule: %w", err)
		}
		r.IdentifierKind = execrule.Kind(kind)
		r.State = execrule.State(state)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneStaleTransitive removes transitive rules whose timestamp is older
// than staleTransitiveRetention (§4.3.1).
func (s *Store) PruneStaleTransitive(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-staleTransitiveRetention).Unix()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rules WHERE state IN (?, ?) AND timestamp < ?`,
		string(execrule.StateAllowTransitive), string(execrule.StateAllowPendingTransitive), cutoff)
	if err != nil {
		return 0, fmt.Errorf("ruledb: prune stale transitive: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ShouldFlushDecisionCache implements the §4.3.3 heuristic: high churn, a
// newly-added non-allow decision, an Allow replacing an AllowCompiler, a
// changed CEL expression for the same identifier, or a Remove that targets
// an existing Allow/AllowCompiler rule.
func (s *Store) ShouldFlushDecisionCache(ctx context.Context, batch []execrule.Rule) (bool, error) {
	if len(batch) > s.ChurnThreshold {
		return true, nil
	}

	for _, r := range batch {
		existing, ok, err := s.findStored(ctx, r.IdentifierKind, r.IdentifierValue)
		if err != nil {
			return false, fmt.Errorf("ruledb: cache-flush lookup: %w", err)
		}

		if r.State == execrule.StateRemove {
			if ok && (existing.State == execrule.StateAllow || existing.State == execrule.StateAllowCompiler) {
				return true, nil
			}
			continue
		}

		if !ok {
			if !r.State.IsSimpleAllow() {
				return true, nil
			}
			continue
		}

		if existing.State == r.State {
			if r.State == execrule.StateCEL && existing.CELExpression != r.CELExpression {
				return true, nil
			}
			continue
		}

		if r.State == execrule.StateAllow && existing.State == execrule.StateAllowCompiler {
			return true, nil
		}
		if !r.State.IsSimpleAllow() {
			return true, nil
		}
	}

	return false, nil
}

// HashOfHashes digests the non-transitive execution rules and the
// file-access rules (§4.3.1, §6.2). See hashLines in hash.go for the
// canonicalization and for why this module doesn't target byte-compatibility
// with the original implementation's undocumented digest (Non-goal, §1).
func (s *Store) HashOfHashes(ctx context.Context) (execrule.RulesHash, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier, kind, state, cel_expression FROM rules
		 WHERE state NOT IN (?, ?) ORDER BY kind, identifier`,
		string(execrule.StateAllowTransitive), string(execrule.StateAllowPendingTransitive))
	if err != nil {
		return execrule.RulesHash{}, fmt.Errorf("ruledb: hash query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []string
	for rows.Next() {
		var identifier, kind, state, expr string
		if err := rows.Scan(&identifier, &kind, &state, &expr); err != nil {
			return execrule.RulesHash{}, err
		}
		lines = append(lines, canonicalRuleLine(identifier, kind, state, expr))
	}
	if err := rows.Err(); err != nil {
		return execrule.RulesHash{}, err
	}

	faRows, err := s.db.QueryContext(ctx, `SELECT name, detail FROM file_access_rules ORDER BY name`)
	if err != nil {
		return execrule.RulesHash{}, fmt.Errorf("ruledb: hash query file-access-rules: %w", err)
	}
	defer func() { _ = faRows.Close() }()

	var faLines []string
	for faRows.Next() {
		var name string
		var detail []byte
		if err := faRows.Scan(&name, &detail); err != nil {
			return execrule.RulesHash{}, err
		}
		faLines = append(faLines, canonicalFileAccessLine(name, detail))
	}
	if err := faRows.Err(); err != nil {
		return execrule.RulesHash{}, err
	}

	return execrule.RulesHash{
		ExecutionRulesHash:  hashLines(lines),
		FileAccessRulesHash: hashLines(faLines),
	}, nil
}
