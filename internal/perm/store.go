package perm

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
)

// ruleCacheSize bounds the per-directory applicable-rules cache.
const ruleCacheSize = 512

const storeSchema = `
CREATE TABLE IF NOT EXISTS rules (
	permfile_path TEXT NOT NULL,
	permfile_dir TEXT NOT NULL,
	permfile_depth INTEGER NOT NULL,
	priority INTEGER NOT NULL,
	path TEXT NOT NULL,
	user TEXT NOT NULL,
	can_read BOOLEAN NOT NULL DEFAULT 0,
	can_create BOOLEAN NOT NULL DEFAULT 0,
	can_write BOOLEAN NOT NULL DEFAULT 0,
	admin BOOLEAN NOT NULL DEFAULT 0,
	disallow BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (permfile_path, priority)
);

CREATE TABLE IF NOT EXISTS rule_files (
	permfile_path TEXT NOT NULL,
	priority INTEGER NOT NULL,
	file_id TEXT NOT NULL,
	match_for_email TEXT,
	PRIMARY KEY (permfile_path, priority, file_id)
);

CREATE INDEX IF NOT EXISTS idx_rules_dir ON rules(permfile_dir);
CREATE INDEX IF NOT EXISTS idx_rule_files_file ON rule_files(file_id);
`

type dbRule struct {
	PermfilePath  string `db:"permfile_path"`
	PermfileDir   string `db:"permfile_dir"`
	PermfileDepth int    `db:"permfile_depth"`
	Priority      int    `db:"priority"`
	Path          string `db:"path"`
	User          string `db:"user"`
	CanRead       bool   `db:"can_read"`
	CanCreate     bool   `db:"can_create"`
	CanWrite      bool   `db:"can_write"`
	Admin         bool   `db:"admin"`
	Disallow      bool   `db:"disallow"`
}

func (d *dbRule) toRule() *Rule {
	perms := make([]PermType, 0, 4)
	if d.CanRead {
		perms = append(perms, PermRead)
	}
	if d.CanCreate {
		perms = append(perms, PermCreate)
	}
	if d.CanWrite {
		perms = append(perms, PermWrite)
	}
	if d.Admin {
		perms = append(perms, PermAdmin)
	}
	return &Rule{
		DirPath:     d.PermfileDir,
		Path:        d.Path,
		User:        d.User,
		Allow:       !d.Disallow,
		Permissions: perms,
		Priority:    d.Priority,
	}
}

func toDBRule(r *Rule) *dbRule {
	return &dbRule{
		PermfilePath:  r.PermFilePath(),
		PermfileDir:   r.DirPath,
		PermfileDepth: r.Depth(),
		Priority:      r.Priority,
		Path:          r.Path,
		User:          r.User,
		CanRead:       r.Has(PermRead),
		CanCreate:     r.Has(PermCreate),
		CanWrite:      r.Has(PermWrite),
		Admin:         r.Has(PermAdmin),
		Disallow:      !r.Allow,
	}
}

// Store is the SQLite index of all permission rules plus the materialized
// rule-to-file bindings used for fast read checks over many files.
type Store struct {
	db *sqlx.DB
	// rules keyed by the parent directory of the queried path. Purged on
	// every rule set mutation.
	ruleCache *lru.Cache[string, []*Rule]
}

func NewStore(db *sqlx.DB) (*Store, error) {
	if _, err := db.Exec(storeSchema); err != nil {
		return nil, fmt.Errorf("init permission schema: %w", err)
	}
	cache, err := lru.New[string, []*Rule](ruleCacheSize)
	if err != nil {
		return nil, fmt.Errorf("init rule cache: %w", err)
	}
	return &Store{db: db, ruleCache: cache}, nil
}

// SetRuleSet replaces all indexed rows of a rule set atomically and
// rebinds its rules against the given candidate files. files are paths
// relative to the datasites root.
func (s *Store) SetRuleSet(rs *RuleSet, files []string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := deleteRuleSetTx(tx, rs.RelPath); err != nil {
		return err
	}

	for _, rule := range rs.Rules {
		row := toDBRule(rule)
		if _, err := tx.NamedExec(`
			INSERT INTO rules (permfile_path, permfile_dir, permfile_depth, priority, path, user, can_read, can_create, can_write, admin, disallow)
			VALUES (:permfile_path, :permfile_dir, :permfile_depth, :priority, :path, :user, :can_read, :can_create, :can_write, :admin, :disallow)`,
			row,
		); err != nil {
			return fmt.Errorf("insert rule %s[%d]: %w", rs.RelPath, rule.Priority, err)
		}

		for _, file := range files {
			matched, email := rule.MatchesFile(file)
			if !matched {
				continue
			}
			if err := insertRuleFileTx(tx, rs.RelPath, rule.Priority, file, email); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.ruleCache.Purge()
	return nil
}

// RemoveRuleSet drops all rows of a permission file from the index.
func (s *Store) RemoveRuleSet(permfilePath string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := deleteRuleSetTx(tx, permfilePath); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.ruleCache.Purge()
	return nil
}

func deleteRuleSetTx(tx *sqlx.Tx, permfilePath string) error {
	if _, err := tx.Exec(`DELETE FROM rule_files WHERE permfile_path = ?`, permfilePath); err != nil {
		return fmt.Errorf("delete rule_files %s: %w", permfilePath, err)
	}
	if _, err := tx.Exec(`DELETE FROM rules WHERE permfile_path = ?`, permfilePath); err != nil {
		return fmt.Errorf("delete rules %s: %w", permfilePath, err)
	}
	return nil
}

func insertRuleFileTx(tx *sqlx.Tx, permfilePath string, priority int, file string, email string) error {
	var emailVal any
	if email != "" {
		emailVal = email
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO rule_files (permfile_path, priority, file_id, match_for_email)
		VALUES (?, ?, ?, ?)`,
		permfilePath, priority, file, emailVal,
	); err != nil {
		return fmt.Errorf("insert rule_file %s -> %s: %w", permfilePath, file, err)
	}
	return nil
}

// LinkFile binds a newly created file to every applicable rule from its
// ancestor permission files.
func (s *Store) LinkFile(file string) error {
	rules, err := s.ApplicableRules(file)
	if err != nil {
		return err
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, rule := range rules {
		matched, email := rule.MatchesFile(file)
		if !matched {
			continue
		}
		if err := insertRuleFileTx(tx, rule.PermFilePath(), rule.Priority, file, email); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UnlinkFile drops all bindings of a deleted file.
func (s *Store) UnlinkFile(file string) error {
	if _, err := s.db.Exec(`DELETE FROM rule_files WHERE file_id = ?`, file); err != nil {
		return fmt.Errorf("unlink file %s: %w", file, err)
	}
	return nil
}

// ApplicableRules returns all rules from permission files in the ancestor
// chain of path, ordered ascending by (depth, priority) so that later rules
// override earlier ones.
func (s *Store) ApplicableRules(path string) ([]*Rule, error) {
	dirs := ancestorDirs(path)
	if len(dirs) == 0 {
		return nil, nil
	}

	cacheKey := dirs[len(dirs)-1]
	if rules, ok := s.ruleCache.Get(cacheKey); ok {
		return rules, nil
	}

	query, args, err := sqlx.In(`
		SELECT permfile_path, permfile_dir, permfile_depth, priority, path, user, can_read, can_create, can_write, admin, disallow
		FROM rules
		WHERE permfile_dir IN (?)
		ORDER BY permfile_depth ASC, priority ASC`, dirs)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []dbRule
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("query rules for %s: %w", path, err)
	}

	rules := make([]*Rule, 0, len(rows))
	for i := range rows {
		rules = append(rules, rows[i].toRule())
	}
	s.ruleCache.Add(cacheKey, rules)
	return rules, nil
}

// HasPermission computes the full resolution for one (user, path) pair.
func (s *Store) HasPermission(user string, path string, p PermType) (bool, error) {
	rules, err := s.ApplicableRules(path)
	if err != nil {
		return false, err
	}
	return Compute(rules, user, path).Has(p), nil
}

// FilterReadable returns the subset of files the user may read, resolved in
// a single aggregation over the materialized bindings. Precedence of a rule
// is (permfile_depth, priority); a file is readable when the strongest
// matching allow outranks the strongest matching deny.
func (s *Store) FilterReadable(user string, files []string) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}

	readable := make(map[string]bool, len(files))
	var candidates []string
	for _, f := range files {
		// owners always read their own datasite
		if owner, _, _ := strings.Cut(f, "/"); owner == user {
			readable[f] = true
			continue
		}
		candidates = append(candidates, f)
	}

	if len(candidates) > 0 {
		query, args, err := sqlx.In(`
			SELECT rf.file_id,
				COALESCE(MAX(CASE WHEN r.can_read AND NOT r.disallow THEN r.permfile_depth * 1000000 + r.priority END), -1) AS allow_prio,
				COALESCE(MAX(CASE WHEN r.can_read AND r.disallow THEN r.permfile_depth * 1000000 + r.priority END), -1) AS deny_prio
			FROM rule_files rf
			JOIN rules r ON r.permfile_path = rf.permfile_path AND r.priority = rf.priority
			WHERE rf.file_id IN (?)
				AND (r.user = ? OR r.user = '*')
				AND (rf.match_for_email IS NULL OR rf.match_for_email = ?)
			GROUP BY rf.file_id`, candidates, user, user)
		if err != nil {
			return nil, fmt.Errorf("build query: %w", err)
		}

		rows, err := s.db.Queryx(query, args...)
		if err != nil {
			return nil, fmt.Errorf("query readable: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var fileID string
			var allowPrio, denyPrio int64
			if err := rows.Scan(&fileID, &allowPrio, &denyPrio); err != nil {
				return nil, fmt.Errorf("scan readable: %w", err)
			}
			if allowPrio > denyPrio {
				readable[fileID] = true
			}
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate readable: %w", err)
		}
	}

	out := make([]string, 0, len(readable))
	for _, f := range files {
		if readable[f] {
			out = append(out, f)
		}
	}
	return out, nil
}

// IndexTree walks every permission file under the datasites root and
// rebuilds the index. Malformed files are skipped.
func (s *Store) IndexTree(permFiles map[string]*RuleSet, allFiles []string) error {
	for relPath, rs := range permFiles {
		if rs == nil {
			slog.Warn("perm index skip malformed", "path", relPath)
			continue
		}
		scoped := filesUnder(rs.DirPath(), allFiles)
		if err := s.SetRuleSet(rs, scoped); err != nil {
			return err
		}
	}
	return nil
}

// RuleSetFor loads the indexed rules of one permission file.
func (s *Store) RuleSetFor(permfilePath string) (*RuleSet, error) {
	var rows []dbRule
	err := s.db.Select(&rows, `
		SELECT permfile_path, permfile_dir, permfile_depth, priority, path, user, can_read, can_create, can_write, admin, disallow
		FROM rules WHERE permfile_path = ? ORDER BY priority ASC`, permfilePath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRules
		}
		return nil, fmt.Errorf("query ruleset %s: %w", permfilePath, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoRules
	}

	rules := make([]*Rule, 0, len(rows))
	for i := range rows {
		rules = append(rules, rows[i].toRule())
	}
	return &RuleSet{RelPath: permfilePath, Rules: rules}, nil
}

func ancestorDirs(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	dirs := make([]string, 0, len(parts))
	for i := 1; i < len(parts); i++ {
		dirs = append(dirs, strings.Join(parts[:i], "/"))
	}
	return dirs
}

func filesUnder(dir string, files []string) []string {
	if dir == "" {
		return files
	}
	var out []string
	for _, f := range files {
		if strings.HasPrefix(f, dir+"/") {
			out = append(out, f)
		}
	}
	return out
}
