package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tradedesk/internal/config"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of desk data (journal + config + playbooks)",
		Long: `Creates a compressed .tar.gz archive containing the trade journal
database, the configuration file, and the playbook library. The backup
is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath, playbookDir := deskPaths(cfgPath)

			if outputPath == "" {
				home, _ := os.UserHomeDir()
				backupDir := filepath.Join(home, ".tradedesk", "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("tradedesk-backup-%s.tar.gz", ts))
			}

			var files []archiveFile

			// The journal database, plus its WAL and SHM siblings if present.
			if _, err := os.Stat(dbPath); err == nil {
				files = append(files, archiveFile{path: dbPath, name: filepath.Base(dbPath)})
				for _, suffix := range []string{"-wal", "-shm"} {
					walPath := dbPath + suffix
					if _, err := os.Stat(walPath); err == nil {
						files = append(files, archiveFile{path: walPath, name: filepath.Base(walPath)})
					}
				}
			}

			if _, err := os.Stat(cfgPath); err == nil {
				files = append(files, archiveFile{path: cfgPath, name: filepath.Base(cfgPath)})
			}

			// Playbooks go under a playbooks/ prefix so restore can route them
			// back into the library directory.
			if entries, err := os.ReadDir(playbookDir); err == nil {
				for _, entry := range entries {
					if entry.IsDir() {
						continue
					}
					ext := strings.ToLower(filepath.Ext(entry.Name()))
					if ext != ".yaml" && ext != ".yml" {
						continue
					}
					files = append(files, archiveFile{
						path: filepath.Join(playbookDir, entry.Name()),
						name: "playbooks/" + entry.Name(),
					})
				}
			}

			if len(files) == 0 {
				return fmt.Errorf("no files to backup (journal: %s, config: %s)", dbPath, cfgPath)
			}

			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(files))
			for _, f := range files {
				info, _ := os.Stat(f.path)
				size := int64(0)
				if info != nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", f.name, humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.tradedesk/backups/tradedesk-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var inputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore desk data from a backup archive",
		Long: `Restores the trade journal, configuration file, and playbooks from a
.tar.gz backup archive created by 'tradedesk backup'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify a backup file: tradedesk restore <file.tar.gz>")
			}

			cfgPath := resolveConfigPath()
			dbPath, playbookDir := deskPaths(cfgPath)

			// Safety: warn before overwriting
			if !force {
				existing := false
				if _, err := os.Stat(dbPath); err == nil {
					existing = true
				}
				if _, err := os.Stat(cfgPath); err == nil {
					existing = true
				}
				if existing {
					fmt.Printf("WARNING: This will overwrite existing data.\n")
					fmt.Printf("  Journal: %s\n", dbPath)
					fmt.Printf("  Config:  %s\n", cfgPath)
					fmt.Printf("Use --force to skip this warning.\n")
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			restored, err := extractTarGz(inputPath, dbPath, cfgPath, playbookDir)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// archiveFile pairs a file on disk with its name inside the archive.
type archiveFile struct {
	path string
	name string
}

// deskPaths resolves the journal and playbook locations from the config.
// A missing or unreadable config falls back to the default layout so a
// backup can still be taken.
func deskPaths(cfgPath string) (dbPath, playbookDir string) {
	if cfg, err := config.Load(cfgPath); err == nil {
		return cfg.Journal.DBPath, cfg.Playbooks.Dir
	}
	defaults := config.Defaults()
	return config.ExpandPath(defaults.Journal.DBPath), config.ExpandPath(defaults.Playbooks.Dir)
}

// createTarGz creates a .tar.gz archive from the given files.
func createTarGz(outputPath string, files []archiveFile) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for _, f := range files {
		if err := addFileToTar(tarWriter, f.path, f.name); err != nil {
			return fmt.Errorf("add %s: %w", f.path, err)
		}
	}

	return nil
}

func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = archiveName

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz extracts relevant files from a backup archive.
func extractTarGz(archivePath, dbPath, cfgPath, playbookDir string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		// Route each entry to its target path by name.
		baseName := filepath.Base(header.Name)
		var targetPath string
		switch {
		case strings.HasPrefix(header.Name, "playbooks/"):
			targetPath = filepath.Join(playbookDir, baseName)
		case baseName == filepath.Base(cfgPath):
			targetPath = cfgPath
		case strings.HasSuffix(baseName, ".db"):
			targetPath = dbPath
		case strings.HasSuffix(baseName, ".db-wal"):
			targetPath = dbPath + "-wal"
		case strings.HasSuffix(baseName, ".db-shm"):
			targetPath = dbPath + "-shm"
		default:
			// Unknown file, restore next to the config.
			targetPath = filepath.Join(filepath.Dir(cfgPath), baseName)
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}

		outFile, err := os.Create(targetPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}

		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		outFile.Close()

		restored = append(restored, targetPath)
	}

	return restored, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
