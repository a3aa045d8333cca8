package cmd

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xwiki/xwiki-platform-sub060/internal/daemon"
	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/source"
)

// homePage is the page that owns the attachments of a space.
const homePage = "WebHome"

type importOptions struct {
	tenant string
	space  string
	locale string
}

func newImportCmd(opts *globalOptions) *cobra.Command {
	var flags importOptions

	cmd := &cobra.Command{
		Use:   "import <directory>",
		Short: "Load files from a directory into the content store",
		Long: `Load files into the SQLite content store. Text files become pages named
after the file; other files become attachments of the space's WebHome page.
Subdirectories become nested spaces.

When a server is running, the imported pages are queued for indexing.
Otherwise run 'wikisearch index' afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.tenant, "tenant", "t", "xwiki", "Tenant to import into")
	cmd.Flags().StringVarP(&flags.space, "space", "s", "Main", "Root space of the imported pages")
	cmd.Flags().StringVar(&flags.locale, "locale", "", "Locale of the imported pages")

	return cmd
}

func runImport(cmd *cobra.Command, opts *globalOptions, root string, flags importOptions) error {
	if flags.tenant == "" || flags.space == "" {
		return wserrors.ValidationError("--tenant and --space must not be empty", nil)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return wserrors.ValidationError("import source must be a directory", err).WithDetail("path", root)
	}

	e, err := loadEnv(cmd, opts, false)
	if err != nil {
		return err
	}
	defer e.close()
	ctx := cmd.Context()

	content, err := source.Open(e.cfg.Source.Path, e.logger)
	if err != nil {
		return wserrors.ConfigurationError("cannot open content store", err).
			WithDetail("path", e.cfg.Source.Path)
	}
	defer func() { _ = content.Close() }()

	imp := &importer{store: content, opts: flags, touched: make(map[string]entity.Base)}
	if err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return imp.file(ctx, path, rel)
	}); err != nil {
		return wserrors.Wrap(wserrors.ErrCodeEnumerateFails, err).WithDetail("path", root)
	}

	e.out.Successf("Imported %d %s and %d %s into %s",
		imp.pages, plural(imp.pages, "page", "pages"),
		imp.attachments, plural(imp.attachments, "attachment", "attachments"),
		e.cfg.Source.Path)

	client := e.client()
	if client == nil {
		e.out.Status("", "Run 'wikisearch index' to index the imported content.")
		return nil
	}
	queued := 0
	for _, b := range imp.touchedPages() {
		n, err := client.Enqueue(ctx, daemon.EnqueueParams{
			Tenant: b.Tenant, Space: b.Space, Name: b.Name, Locale: b.Locale,
		})
		if err != nil {
			return err
		}
		queued += n
	}
	e.out.Successf("Queued %d %s on the running server", queued, plural(queued, "entity", "entities"))
	return nil
}

// importer writes files into the content store.
type importer struct {
	store   *source.Store
	opts    importOptions
	touched map[string]entity.Base

	pages       int
	attachments int
}

func (im *importer) file(ctx context.Context, path, rel string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	space := im.opts.space
	if dir := filepath.Dir(rel); dir != "." {
		space += "." + strings.ReplaceAll(filepath.ToSlash(dir), "/", ".")
	}
	filename := filepath.Base(rel)
	mime := entity.MimeTypeFor(filename)
	modified := info.ModTime().UTC()

	if entity.IsTextual(mime) {
		name := strings.TrimSuffix(filename, filepath.Ext(filename))
		base := im.base(space, name, modified)
		if err := im.store.SavePage(ctx, &entity.Page{Base: base, Body: string(data)}); err != nil {
			return err
		}
		im.touched[base.PageID()] = base
		im.pages++
		return nil
	}

	home := im.base(space, homePage, modified)
	if _, ok := im.touched[home.PageID()]; !ok {
		existing, err := im.store.Page(ctx, home)
		if err != nil {
			return err
		}
		if existing == nil {
			if err := im.store.SavePage(ctx, &entity.Page{Base: home}); err != nil {
				return err
			}
			im.pages++
		}
		im.touched[home.PageID()] = home
	}

	att := &entity.Attachment{Base: home, Filename: filename, MimeType: mime}
	if err := im.store.SaveAttachment(ctx, att, data); err != nil {
		return err
	}
	im.attachments++
	return nil
}

func (im *importer) base(space, name string, modified time.Time) entity.Base {
	return entity.Base{
		Tenant:   im.opts.tenant,
		Space:    space,
		Name:     name,
		Locale:   im.opts.locale,
		Title:    name,
		Author:   "import",
		Creator:  "import",
		Created:  modified,
		Modified: modified,
	}
}

func (im *importer) touchedPages() []entity.Base {
	ids := make([]string, 0, len(im.touched))
	for id := range im.touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]entity.Base, len(ids))
	for i, id := range ids {
		out[i] = im.touched[id]
	}
	return out
}
