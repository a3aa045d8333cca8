// Package source is the SQLite content store wikisearch indexes from. It
// holds pages, attachments and object records, and enumerates them as
// entities for rebuilds.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
	"github.com/xwiki/xwiki-platform-sub060/internal/source/migrations"
)

// Store is a SQLite-backed content store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the store at path and applies pending migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path, logger: logging.OrDefault(logger)}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, time.Now().Unix()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
		s.logger.Debug("migration_applied", slog.String("name", name), slog.String("path", s.path))
	}
	return nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// SavePage inserts or replaces one locale of a page.
func (s *Store) SavePage(ctx context.Context, p *entity.Page) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (tenant, space, name, locale, title, author, creator, created, modified, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant, space, name, locale) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			creator = excluded.creator,
			created = excluded.created,
			modified = excluded.modified,
			body = excluded.body
	`, p.Tenant, p.Space, p.Name, p.Locale, p.Title, p.Author, p.Creator,
		toUnix(p.Created), toUnix(p.Modified), p.Body)
	if err != nil {
		return fmt.Errorf("saving page %s: %w", p.ID(), err)
	}
	return nil
}

// SaveAttachment inserts or replaces an attachment and its content. a.Load
// is ignored.
func (s *Store) SaveAttachment(ctx context.Context, a *entity.Attachment, content []byte) error {
	size := a.Size
	if size == 0 {
		size = int64(len(content))
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (tenant, space, name, filename, mime_type, size, author, modified, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant, space, name, filename) DO UPDATE SET
			mime_type = excluded.mime_type,
			size = excluded.size,
			author = excluded.author,
			modified = excluded.modified,
			content = excluded.content
	`, a.Tenant, a.Space, a.Name, a.Filename, a.MimeType, size, a.Author, toUnix(a.Modified), content)
	if err != nil {
		return fmt.Errorf("saving attachment %s: %w", a.ID(), err)
	}
	return nil
}

// SaveObjects replaces every object record of the page with o.Records.
// Property resolvers are not called; Value is stored.
func (s *Store) SaveObjects(ctx context.Context, o *entity.Objects) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saving objects %s: %w", o.ID(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM objects WHERE tenant = ? AND space = ? AND name = ?`,
		o.Tenant, o.Space, o.Name); err != nil {
		return fmt.Errorf("clearing objects %s: %w", o.ID(), err)
	}

	for _, rec := range o.Records {
		if _, err = tx.ExecContext(ctx, `INSERT INTO objects (tenant, space, name, class, number) VALUES (?, ?, ?, ?, ?)`,
			o.Tenant, o.Space, o.Name, rec.Class, rec.Number); err != nil {
			return fmt.Errorf("saving object %s[%d]: %w", rec.Class, rec.Number, err)
		}
		for _, prop := range rec.Properties {
			if err = insertProperty(ctx, tx, o.Base, rec, prop); err != nil {
				return err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("saving objects %s: %w", o.ID(), err)
	}
	return nil
}

func insertProperty(ctx context.Context, tx *sql.Tx, page entity.Base, rec entity.Record, prop entity.Property) error {
	const q = `INSERT INTO object_properties
		(tenant, space, name, class, number, property, position, text, choice_key, choice_label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if len(prop.Value.Choices) == 0 {
		_, err := tx.ExecContext(ctx, q, page.Tenant, page.Space, page.Name, rec.Class, rec.Number,
			prop.Name, 0, prop.Value.Text, nil, nil)
		if err != nil {
			return fmt.Errorf("saving property %s.%s: %w", rec.Class, prop.Name, err)
		}
		return nil
	}
	for i, c := range prop.Value.Choices {
		_, err := tx.ExecContext(ctx, q, page.Tenant, page.Space, page.Name, rec.Class, rec.Number,
			prop.Name, i, nil, c.Key, c.Label)
		if err != nil {
			return fmt.Errorf("saving property %s.%s: %w", rec.Class, prop.Name, err)
		}
	}
	return nil
}

// DeletePage removes every locale of a page with its attachments and
// objects. It returns the names of the removed attachments.
func (s *Store) DeletePage(ctx context.Context, page entity.Base) (filenames []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("deleting page %s: %w", page.FullName(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `SELECT filename FROM attachments WHERE tenant = ? AND space = ? AND name = ? ORDER BY filename`,
		page.Tenant, page.Space, page.Name)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	for rows.Next() {
		var f string
		if err = rows.Scan(&f); err != nil {
			_ = rows.Close()
			return nil, err
		}
		filenames = append(filenames, f)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}

	for _, table := range []string{"pages", "attachments", "objects"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE tenant = ? AND space = ? AND name = ?",
			page.Tenant, page.Space, page.Name); err != nil {
			return nil, fmt.Errorf("deleting from %s: %w", table, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("deleting page %s: %w", page.FullName(), err)
	}
	return filenames, nil
}

// Page returns one locale of a page, or nil when it does not exist.
func (s *Store) Page(ctx context.Context, page entity.Base) (*entity.Page, error) {
	pages, err := s.queryPages(ctx, `WHERE tenant = ? AND space = ? AND name = ? AND locale = ?`,
		page.Tenant, page.Space, page.Name, page.Locale)
	if err != nil || len(pages) == 0 {
		return nil, err
	}
	return pages[0], nil
}

// Tenants returns the tenants that have at least one page.
func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant FROM pages ORDER BY tenant`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// tenantFilter returns a WHERE clause restricting tenant to tenants, or an
// empty clause for all tenants.
func tenantFilter(tenants []string) (string, []any) {
	if len(tenants) == 0 {
		return "", nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(tenants)), ",")
	args := make([]any, len(tenants))
	for i, t := range tenants {
		args[i] = t
	}
	return "WHERE tenant IN (" + marks + ")", args
}

// Enumerate returns every page, objects group and attachment of tenants, or
// of every tenant when tenants is empty. Attachment content is loaded when
// the entity is indexed.
func (s *Store) Enumerate(ctx context.Context, tenants []string) ([]entity.Entity, error) {
	where, args := tenantFilter(tenants)

	pages, err := s.queryPages(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	objects, err := s.queryObjects(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	atts, err := s.queryAttachments(ctx, where, args...)
	if err != nil {
		return nil, err
	}

	out := make([]entity.Entity, 0, len(pages)+len(objects)+len(atts))
	for _, p := range pages {
		out = append(out, p)
	}
	for _, o := range objects {
		out = append(out, o)
	}
	for _, a := range atts {
		out = append(out, a)
	}

	s.logger.Debug("content_enumerated",
		slog.Int("pages", len(pages)),
		slog.Int("objects", len(objects)),
		slog.Int("attachments", len(atts)))
	return out, nil
}

// Objects returns the object records of page, or nil when it has none.
func (s *Store) Objects(ctx context.Context, page entity.Base) (*entity.Objects, error) {
	objs, err := s.queryObjects(ctx, `WHERE o.tenant = ? AND o.space = ? AND o.name = ?`, page.Tenant, page.Space, page.Name)
	if err != nil || len(objs) == 0 {
		return nil, err
	}
	return objs[0], nil
}

// Attachments returns the attachments of page.
func (s *Store) Attachments(ctx context.Context, page entity.Base) ([]*entity.Attachment, error) {
	return s.queryAttachments(ctx, `WHERE a.tenant = ? AND a.space = ? AND a.name = ?`, page.Tenant, page.Space, page.Name)
}

func (s *Store) queryPages(ctx context.Context, where string, args ...any) ([]*entity.Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant, space, name, locale, title, author, creator, created, modified, body
		FROM pages `+where+`
		ORDER BY tenant, space, name, locale`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pages: %w", err)
	}
	defer rows.Close()

	var out []*entity.Page
	for rows.Next() {
		p := &entity.Page{}
		var created, modified int64
		if err := rows.Scan(&p.Tenant, &p.Space, &p.Name, &p.Locale, &p.Title, &p.Author, &p.Creator,
			&created, &modified, &p.Body); err != nil {
			return nil, fmt.Errorf("reading page: %w", err)
		}
		p.Created, p.Modified = fromUnix(created), fromUnix(modified)
		out = append(out, p)
	}
	return out, rows.Err()
}

// queryAttachments lists attachments; where may refer to the attachments
// table as a. The page title comes from the page's default locale.
func (s *Store) queryAttachments(ctx context.Context, where string, args ...any) ([]*entity.Attachment, error) {
	where = strings.Replace(where, "WHERE tenant", "WHERE a.tenant", 1)
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.tenant, a.space, a.name, a.filename, a.mime_type, a.size, a.author, a.modified,
		       COALESCE(p.title, ''), COALESCE(p.creator, ''), COALESCE(p.created, 0)
		FROM attachments a
		LEFT JOIN pages p ON p.tenant = a.tenant AND p.space = a.space AND p.name = a.name AND p.locale = ''
		`+where+`
		ORDER BY a.tenant, a.space, a.name, a.filename`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	defer rows.Close()

	var out []*entity.Attachment
	for rows.Next() {
		a := &entity.Attachment{}
		var modified, created int64
		if err := rows.Scan(&a.Tenant, &a.Space, &a.Name, &a.Filename, &a.MimeType, &a.Size, &a.Author,
			&modified, &a.Title, &a.Creator, &created); err != nil {
			return nil, fmt.Errorf("reading attachment: %w", err)
		}
		a.Modified, a.Created = fromUnix(modified), fromUnix(created)
		a.Load = s.contentLoader(a.Base, a.Filename)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) contentLoader(page entity.Base, filename string) func(context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		var content []byte
		err := s.db.QueryRowContext(ctx, `
			SELECT content FROM attachments WHERE tenant = ? AND space = ? AND name = ? AND filename = ?`,
			page.Tenant, page.Space, page.Name, filename).Scan(&content)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attachment %s no longer exists", entity.AttachmentID(page, filename))
		}
		if err != nil {
			return nil, fmt.Errorf("loading attachment %s: %w", entity.AttachmentID(page, filename), err)
		}
		return content, nil
	}
}

type objectKey struct {
	tenant, space, name string
}

// queryObjects groups the object records of each page into one Objects.
func (s *Store) queryObjects(ctx context.Context, where string, args ...any) ([]*entity.Objects, error) {
	where = strings.Replace(where, "WHERE tenant", "WHERE o.tenant", 1)
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.tenant, o.space, o.name, o.class, o.number,
		       COALESCE(pr.property, ''), COALESCE(pr.position, 0),
		       pr.text, pr.choice_key, pr.choice_label,
		       COALESCE(p.title, ''), COALESCE(p.author, ''), COALESCE(p.modified, 0)
		FROM objects o
		LEFT JOIN object_properties pr
		       ON pr.tenant = o.tenant AND pr.space = o.space AND pr.name = o.name
		      AND pr.class = o.class AND pr.number = o.number
		LEFT JOIN pages p ON p.tenant = o.tenant AND p.space = o.space AND p.name = o.name AND p.locale = ''
		`+where+`
		ORDER BY o.tenant, o.space, o.name, o.class, o.number, pr.property, pr.position`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}
	defer rows.Close()

	var out []*entity.Objects
	var cur *entity.Objects
	var curKey objectKey
	for rows.Next() {
		var (
			k                objectKey
			class, property  string
			number, position int
			text, key, label sql.NullString
			title, author    string
			modified         int64
		)
		if err := rows.Scan(&k.tenant, &k.space, &k.name, &class, &number, &property, &position,
			&text, &key, &label, &title, &author, &modified); err != nil {
			return nil, fmt.Errorf("reading object: %w", err)
		}

		if cur == nil || k != curKey {
			cur = &entity.Objects{Base: entity.Base{
				Tenant: k.tenant, Space: k.space, Name: k.name,
				Title: title, Author: author, Modified: fromUnix(modified),
			}}
			curKey = k
			out = append(out, cur)
		}

		n := len(cur.Records)
		if n == 0 || cur.Records[n-1].Class != class || cur.Records[n-1].Number != number {
			cur.Records = append(cur.Records, entity.Record{Class: class, Number: number})
			n++
		}
		if property == "" {
			continue
		}
		rec := &cur.Records[n-1]
		m := len(rec.Properties)
		if m == 0 || rec.Properties[m-1].Name != property {
			rec.Properties = append(rec.Properties, entity.Property{Name: property})
			m++
		}
		prop := &rec.Properties[m-1]
		if key.Valid || label.Valid {
			prop.Value.Choices = append(prop.Value.Choices, entity.Choice{Key: key.String, Label: label.String})
		} else {
			prop.Value.Text = text.String
		}
	}
	return out, rows.Err()
}
