package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/config"
)

// Archive layout: the audit database and its SQLite sidecars under audit/,
// the config file under config/ with its original extension.
const (
	archiveDB     = "audit/audit.db"
	archiveConfig = "config/config"
)

var sqliteSidecars = []string{"-wal", "-shm"}

type backupEntry struct {
	name string // path inside the archive
	path string // path on disk
	size int64
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the audit database and config",
		Long: `Writes a .tar.gz archive holding the SQLite audit database (with its WAL
and SHM files) and the configuration file. Tokens referenced as ${VAR} stay
references; literal tokens are archived as written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath, err := resolveDBPath()
			if err != nil {
				return err
			}

			entries := collectBackup(dbPath, cfgPath)
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (db: %s, config: %s)", dbPath, cfgPath)
			}

			if outputPath == "" {
				dir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("create backup directory: %w", err)
				}
				outputPath = filepath.Join(dir, "remotebot-"+time.Now().Format("20060102-150405")+".tar.gz")
			}
			if err := writeBackup(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup written to %s\n", outputPath)
			for _, e := range entries {
				fmt.Printf("  %-22s %s\n", e.name, humanize.IBytes(uint64(e.size)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "archive path (default: ~/.remotebot/backups/remotebot-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore the audit database and config from a backup",
		Long:  "Restores an archive written by 'remotebot backup'. Stop the bot first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath, err := resolveDBPath()
			if err != nil {
				return err
			}

			if !force {
				if existing := collectBackup(dbPath, cfgPath); len(existing) > 0 {
					fmt.Println("These files would be overwritten:")
					for _, e := range existing {
						fmt.Printf("  %s\n", e.path)
					}
					return errors.New("restore aborted (use --force to overwrite)")
				}
			}

			restored, err := restoreBackup(args[0], dbPath, cfgPath)
			for _, path := range restored {
				fmt.Printf("  restored %s\n", path)
			}
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite the current database and config")
	return cmd
}

// resolveDBPath returns the audit database path from the loaded config.
func resolveDBPath() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Audit.DBPath == "" {
		return "", errors.New("audit.dbPath is not configured")
	}
	return cfg.Audit.DBPath, nil
}

// collectBackup lists the files that exist, database first so restore sees
// it before its sidecars.
func collectBackup(dbPath, cfgPath string) []backupEntry {
	var entries []backupEntry
	add := func(name, path string) bool {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
		entries = append(entries, backupEntry{name: name, path: path, size: info.Size()})
		return true
	}
	if add(archiveDB, dbPath) {
		for _, suffix := range sqliteSidecars {
			add(archiveDB+suffix, dbPath+suffix)
		}
	}
	add(archiveConfig+strings.ToLower(filepath.Ext(cfgPath)), cfgPath)
	return entries
}

func writeBackup(archivePath string, entries []backupEntry) (err error) {
	f, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		if err := appendEntry(tw, e); err != nil {
			return fmt.Errorf("add %s: %w", e.path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func appendEntry(tw *tar.Writer, e backupEntry) error {
	src, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.name,
		Mode:     0o600,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, src)
	return err
}

// restoreBackup writes each archive entry over its target and returns the
// paths it replaced. Restoring the database drops sidecars left on disk so
// SQLite never replays a WAL that belongs to another database.
func restoreBackup(archivePath, dbPath, cfgPath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return restored, nil
		}
		if err != nil {
			return restored, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		target, err := restoreTarget(hdr.Name, dbPath, cfgPath)
		if err != nil {
			return restored, err
		}
		if target == dbPath {
			for _, suffix := range sqliteSidecars {
				if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
					return restored, err
				}
			}
		}
		if err := replaceFile(target, tr); err != nil {
			return restored, fmt.Errorf("restore %s: %w", hdr.Name, err)
		}
		restored = append(restored, target)
	}
}

// restoreTarget maps an archive entry to its destination. Anything outside
// the backup layout is refused.
func restoreTarget(name, dbPath, cfgPath string) (string, error) {
	if name == archiveDB {
		return dbPath, nil
	}
	if suffix, ok := strings.CutPrefix(name, archiveDB); ok && slices.Contains(sqliteSidecars, suffix) {
		return dbPath + suffix, nil
	}
	if ext, ok := strings.CutPrefix(name, archiveConfig); ok {
		got, want := configFormat(ext), configFormat(filepath.Ext(cfgPath))
		if got == "" {
			return "", fmt.Errorf("unexpected archive entry %q", name)
		}
		if got != want {
			return "", fmt.Errorf("archive holds a %s config but %s is configured", got, cfgPath)
		}
		return cfgPath, nil
	}
	return "", fmt.Errorf("unexpected archive entry %q", name)
}

func configFormat(ext string) string {
	switch strings.ToLower(ext) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	return ""
}

// replaceFile writes r to a temp file beside path and renames it into place.
func replaceFile(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
