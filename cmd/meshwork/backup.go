package main

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/meshwork/internal/config"
	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/mesh"
	"github.com/mtzanidakis/meshwork/internal/store"
)

// Archive entries, all under a single top-level directory.
const (
	archiveRoot  = "meshwork"
	exportEntry  = "export.json"
	catalogEntry = "catalog.json"
)

type archiveFlags struct {
	path      string
	overwrite bool
}

func parseArchiveFlags(args []string, allowOverwrite bool) (archiveFlags, error) {
	var f archiveFlags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return f, fmt.Errorf("missing value for -f")
			}
			i++
			f.path = args[i]
		case "-overwrite":
			if !allowOverwrite {
				return f, fmt.Errorf("unknown flag: %s", args[i])
			}
			f.overwrite = true
		default:
			return f, fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if f.path == "" {
		return f, fmt.Errorf("missing -f flag")
	}
	return f, nil
}

func runBackup(args []string) error {
	flags, err := parseArchiveFlags(args, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: meshwork backup -f <output.tar.zst>\n")
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	f, err := os.Create(flags.path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	env, defs, err := backupState(db, f)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	size := int64(0)
	if info, _ := os.Stat(flags.path); info != nil {
		size = info.Size()
	}
	fmt.Printf("Backup complete: %d agents, %d job definitions, %s\n", len(env.Data.Agents), len(defs), formatSize(size))
	return nil
}

// backupState writes a full-backup export and the job catalog held in db
// to w as a zstd-compressed tar.
func backupState(db *store.Store, w io.Writer) (*mesh.Envelope, []jobs.Definition, error) {
	ws, err := mesh.NewWorkspaceStore(db)
	if err != nil {
		return nil, nil, fmt.Errorf("load workspace: %w", err)
	}
	eco, err := mesh.NewEcosystemStore(db)
	if err != nil {
		return nil, nil, fmt.Errorf("load ecosystem: %w", err)
	}
	env, err := mesh.NewEnvelope(mesh.ExportFullBackup, ws.Snapshot(), eco.Snapshot(), time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	defs, err := jobs.NewCatalog(db).List()
	if err != nil {
		return nil, nil, fmt.Errorf("list job definitions: %w", err)
	}
	if err := writeArchive(w, env, defs); err != nil {
		return nil, nil, err
	}
	return env, defs, nil
}

func writeArchive(w io.Writer, env *mesh.Envelope, defs []jobs.Definition) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	entries := []struct {
		name string
		v    any
	}{
		{exportEntry, env},
		{catalogEntry, defs},
	}
	for _, e := range entries {
		data, err := json.MarshalIndent(e.v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal %s: %w", e.name, err)
		}
		hdr := &tar.Header{
			Name:    path.Join(archiveRoot, e.name),
			Mode:    0o600,
			Size:    int64(len(data)),
			ModTime: env.ExportedAt,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write tar data: %w", err)
		}
	}

	// Close explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	return nil
}

// readArchive returns the export and job definitions in an archive written
// by writeArchive. Unknown entries are skipped; a missing export is an error.
func readArchive(r io.Reader) (*mesh.Envelope, []jobs.Definition, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	var (
		env  *mesh.Envelope
		defs []jobs.Definition
	)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read tar entry: %w", err)
		}

		switch path.Clean(hdr.Name) {
		case path.Join(archiveRoot, exportEntry):
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("read %s: %w", exportEntry, err)
			}
			if env, err = mesh.ParseEnvelope(data); err != nil {
				return nil, nil, err
			}
		case path.Join(archiveRoot, catalogEntry):
			if err := json.NewDecoder(tr).Decode(&defs); err != nil {
				return nil, nil, fmt.Errorf("decode %s: %w", catalogEntry, err)
			}
		default:
			slog.Warn("skipping unknown archive entry", "name", hdr.Name)
		}
	}

	if env == nil {
		return nil, nil, fmt.Errorf("archive has no %s", exportEntry)
	}
	return env, defs, nil
}

func runRestore(args []string) error {
	flags, err := parseArchiveFlags(args, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: meshwork restore -f <backup.tar.zst> [-overwrite]\n")
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	f, err := os.Open(flags.path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	env, defs, err := restoreState(db, f, flags.overwrite)
	if err != nil {
		return err
	}
	fmt.Printf("Restore complete: %d agents, %d job definitions\n", len(env.Data.Agents), len(defs))
	return nil
}

// restoreState replaces the workspace, ecosystem and job catalog in db
// with the archive read from r. Without overwrite it refuses to replace a
// workspace that has agents.
func restoreState(db *store.Store, r io.Reader, overwrite bool) (*mesh.Envelope, []jobs.Definition, error) {
	env, defs, err := readArchive(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read archive: %w", err)
	}

	ws, err := mesh.NewWorkspaceStore(db)
	if err != nil {
		return nil, nil, fmt.Errorf("load workspace: %w", err)
	}
	eco, err := mesh.NewEcosystemStore(db)
	if err != nil {
		return nil, nil, fmt.Errorf("load ecosystem: %w", err)
	}
	if n := len(ws.Snapshot().Agents); n > 0 && !overwrite {
		return nil, nil, fmt.Errorf("workspace already has %d agents, add -overwrite to replace it", n)
	}

	if err := env.Apply(ws, eco); err != nil {
		return nil, nil, err
	}

	catalog := jobs.NewCatalog(db)
	for _, d := range defs {
		if _, err := catalog.Save(d); err != nil {
			return nil, nil, fmt.Errorf("restore job definition %s: %w", d.Name, err)
		}
	}
	slog.Info("state restored", "type", env.Type, "definitions", len(defs))
	return env, defs, nil
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
