package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediinterpret/internal/config"
	"mediinterpret/internal/memory"
)

// A backup is a .tar.gz whose first entry is manifest.json, followed by
// config.json, consultations.db (+ -wal, -shm) and attachments/<files>.
const (
	archiveManifest    = "manifest.json"
	archiveConfig      = "config.json"
	archiveDB          = "consultations.db"
	archiveAttachments = "attachments/"
)

type manifest struct {
	Version string          `json:"version"`
	Created time.Time       `json:"created"`
	Schema  int             `json:"schema"`
	Files   []manifestEntry `json:"files"`
}

type manifestEntry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`

	path string
}

// dataPaths are the on-disk locations a backup covers.
type dataPaths struct {
	config      string
	db          string
	attachments string
}

func resolveDataPaths() dataPaths {
	cfgPath := config.ExpandPath(resolveConfigPath())
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}
	return dataPaths{
		config:      cfgPath,
		db:          config.ExpandPath(cfg.Memory.DBPath),
		attachments: config.ExpandPath(cfg.Attachments.Dir),
	}
}

func backupCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config, consultation database and attachments",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := resolveDataPaths()
			if output == "" {
				dir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create backup directory: %w", err)
				}
				output = filepath.Join(dir, "mediinterpret-backup-"+time.Now().Format("20060102-150405")+".tar.gz")
			}

			m, err := collect(paths)
			if err != nil {
				return err
			}
			if len(m.Files) == 0 {
				return fmt.Errorf("nothing to back up (config %s, database %s)", paths.config, paths.db)
			}
			if m.Schema, err = readSchema(paths.db); err != nil {
				logger.Warn("could not read schema version", "db", paths.db, "err", err)
			}

			size, err := writeBackup(output, m)
			if err != nil {
				os.Remove(output)
				return fmt.Errorf("backup failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s (%s, %d files, schema v%d)\n",
				output, humanSize(size), len(m.Files), m.Schema)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path (default ~/.mediinterpret/backups/mediinterpret-backup-<time>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force, list bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore data from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				m, err := readManifest(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Created %s by v%s, schema v%d\n", m.Created.Local().Format(time.DateTime), m.Version, m.Schema)
				for _, f := range m.Files {
					fmt.Fprintf(out, "  %-40s %s\n", f.Name, humanSize(f.Size))
				}
				return nil
			}

			paths := resolveDataPaths()
			if !force && (fileExists(paths.db) || fileExists(paths.config)) {
				return fmt.Errorf("existing data at %s and %s would be overwritten (use --force)", paths.config, paths.db)
			}
			n, err := restoreBackup(args[0], paths, force)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Fprintf(out, "Restored %d files from %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data and accept a newer schema")
	cmd.Flags().BoolVar(&list, "list", false, "print the archive contents without restoring")
	return cmd
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// collect lists the files a backup of paths contains, sorted by archive name.
func collect(paths dataPaths) (*manifest, error) {
	m := &manifest{Version: version, Created: time.Now().UTC()}
	add := func(name, path string) error {
		if !fileExists(path) {
			return nil
		}
		sum, size, err := digest(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		m.Files = append(m.Files, manifestEntry{Name: name, Size: size, SHA256: sum, path: path})
		return nil
	}

	if err := add(archiveConfig, paths.config); err != nil {
		return nil, err
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := add(archiveDB+suffix, paths.db+suffix); err != nil {
			return nil, err
		}
	}
	err := filepath.WalkDir(paths.attachments, func(p string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return filepath.SkipDir
		}
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(paths.attachments, p)
		if err != nil {
			return err
		}
		return add(archiveAttachments+filepath.ToSlash(rel), p)
	})
	if err != nil {
		return nil, fmt.Errorf("scan attachments: %w", err)
	}
	slices.SortFunc(m.Files, func(a, b manifestEntry) int { return strings.Compare(a.Name, b.Name) })
	return m, nil
}

func digest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	return hex.EncodeToString(h.Sum(nil)), n, err
}

// readSchema opens the database read-only and returns its schema version.
func readSchema(dbPath string) (int, error) {
	if !fileExists(dbPath) {
		return 0, nil
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return 0, err
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return memory.SchemaVersion(ctx, db)
}

// writeBackup writes the manifest and then every file it lists, returning
// the archive size.
func writeBackup(output string, m *manifest) (int64, error) {
	f, err := os.Create(output)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return 0, err
	}
	hdr := &tar.Header{Name: archiveManifest, Mode: 0o644, Size: int64(len(data)), ModTime: m.Created}
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}
	if _, err := tw.Write(data); err != nil {
		return 0, err
	}

	for _, e := range m.Files {
		if err := appendFile(tw, e); err != nil {
			return 0, fmt.Errorf("add %s: %w", e.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return 0, err
	}
	if err := gz.Close(); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// appendFile copies exactly e.Size bytes so a file growing during the
// backup cannot corrupt the archive.
func appendFile(tw *tar.Writer, e manifestEntry) error {
	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{Name: e.Name, Mode: int64(info.Mode().Perm()), Size: e.Size, ModTime: info.ModTime()}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.CopyN(tw, f, e.Size)
	return err
}

// openBackup returns a tar reader positioned after the manifest.
func openBackup(path string) (*tar.Reader, *manifest, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("not a gzip archive: %w", err)
	}
	closeAll := func() { gz.Close(); f.Close() }

	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	if err != nil || hdr.Name != archiveManifest {
		closeAll()
		return nil, nil, nil, errors.New("not a mediinterpret backup: manifest missing")
	}
	var m manifest
	if err := json.NewDecoder(tr).Decode(&m); err != nil {
		closeAll()
		return nil, nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	return tr, &m, closeAll, nil
}

func readManifest(path string) (*manifest, error) {
	_, m, closeAll, err := openBackup(path)
	if err != nil {
		return nil, err
	}
	closeAll()
	return m, nil
}

// restoreBackup extracts the files listed in the manifest to paths. Each
// file is checked against its digest and renamed into place only when it
// matches. Entries the manifest does not list are skipped.
func restoreBackup(path string, paths dataPaths, force bool) (int, error) {
	tr, m, closeAll, err := openBackup(path)
	if err != nil {
		return 0, err
	}
	defer closeAll()

	if m.Schema > memory.LatestSchema() && !force {
		return 0, fmt.Errorf("backup has schema v%d, this build supports v%d (use --force)", m.Schema, memory.LatestSchema())
	}
	want := make(map[string]manifestEntry, len(m.Files))
	for _, e := range m.Files {
		want[e.Name] = e
	}

	restored := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, err
		}
		e, listed := want[hdr.Name]
		target := restoreTarget(hdr.Name, paths)
		if hdr.Typeflag != tar.TypeReg || !listed || target == "" {
			logger.Warn("skipping archive entry", "name", hdr.Name)
			continue
		}
		if err := extract(tr, target, e); err != nil {
			return restored, fmt.Errorf("%s: %w", hdr.Name, err)
		}
		restored++
	}
	if restored != len(m.Files) {
		return restored, fmt.Errorf("archive truncated: restored %d of %d files", restored, len(m.Files))
	}
	return restored, nil
}

func extract(r io.Reader, target string, e manifestEntry) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".restore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != e.SHA256 {
		return fmt.Errorf("checksum mismatch (archive %s, manifest %s)", got[:12], e.SHA256[:min(12, len(e.SHA256))])
	}
	return os.Rename(tmp.Name(), target)
}

func restoreTarget(name string, paths dataPaths) string {
	switch name {
	case archiveConfig:
		return paths.config
	case archiveDB, archiveDB + "-wal", archiveDB + "-shm":
		return paths.db + strings.TrimPrefix(name, archiveDB)
	}
	rel, ok := strings.CutPrefix(name, archiveAttachments)
	if !ok || rel == "" {
		return ""
	}
	target := filepath.Join(paths.attachments, filepath.FromSlash(rel))
	if !strings.HasPrefix(target, filepath.Clean(paths.attachments)+string(filepath.Separator)) {
		return ""
	}
	return target
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit && exp < 3; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
