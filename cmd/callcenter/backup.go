package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"callcenter/internal/config"

	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the SQLite database and config file",
		Long: `Creates a timestamped .tar.gz archive with the SQLite database (and its
WAL files) plus the config file. PostgreSQL deployments should use pg_dump.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath, err := resolveDBPath(cfgPath)
			if err != nil {
				return err
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("callcenter-backup-%s.tar.gz", ts))
			}

			var files []string
			for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm", cfgPath} {
				if _, err := os.Stat(p); err == nil {
					files = append(files, p)
				}
			}
			if len(files) == 0 {
				return fmt.Errorf("nothing to back up (database %s, config %s)", dbPath, cfgPath)
			}

			if err := createTarGz(outputPath, files); err != nil {
				os.Remove(outputPath)
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for _, f := range files {
				var size int64
				if info, err := os.Stat(f); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", filepath.Base(f), humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "archive path (default: ~/.callcenter/backups/callcenter-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore the database and config from a backup archive",
		Long:  "Stop the server before restoring; the archive replaces the database files in place.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath, err := resolveDBPath(cfgPath)
			if err != nil {
				return err
			}

			if !force {
				for _, p := range []string{dbPath, cfgPath} {
					if _, err := os.Stat(p); err == nil {
						fmt.Printf("%s exists and would be overwritten.\n", p)
						return errors.New("restore aborted (use --force to proceed)")
					}
				}
			}

			restored, err := extractTarGz(args[0], dbPath, cfgPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Printf("Restored from %s:\n", args[0])
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

// resolveDBPath reads database.path from the config. Backups only cover
// the sqlite driver.
func resolveDBPath(cfgPath string) (string, error) {
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver != "sqlite" {
		return "", fmt.Errorf("backup supports the sqlite driver only (configured: %s)", cfg.Database.Driver)
	}
	return cfg.Database.Path, nil
}

func createTarGz(outputPath string, files []string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for _, p := range files {
		if err := addFileToTar(tw, p); err != nil {
			return fmt.Errorf("add %s: %w", p, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Close()
}

func addFileToTar(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// extractTarGz maps archive entries back onto the configured paths by
// suffix. Anything else lands next to the config file.
func extractTarGz(archivePath, dbPath, cfgPath string) ([]string, error) {
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
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Base(header.Name)
		var target string
		switch {
		case strings.HasSuffix(name, ".json"):
			target = cfgPath
		case strings.HasSuffix(name, "-wal"):
			target = dbPath + "-wal"
		case strings.HasSuffix(name, "-shm"):
			target = dbPath + "-shm"
		case strings.HasSuffix(name, ".db"):
			target = dbPath
		default:
			target = filepath.Join(filepath.Dir(cfgPath), name)
		}

		if err := writeEntry(target, tr, header.FileInfo().Mode().Perm()); err != nil {
			return nil, err
		}
		restored = append(restored, target)
	}
	return restored, nil
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", target, err)
	}
	return out.Close()
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
