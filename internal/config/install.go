package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"pathwatch/internal/logging"
)

const baselineName = ".pathwatch-baseline.json"

// Decision is what Install does with one default file.
type Decision int

const (
	DecisionInstall Decision = iota
	DecisionKeep
	DecisionSkip
	DecisionConflict
)

func (d Decision) String() string {
	switch d {
	case DecisionInstall:
		return "install"
	case DecisionKeep:
		return "keep"
	case DecisionSkip:
		return "skip"
	case DecisionConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// DecisionInput compares the file on disk with the version installed last
// time (the baseline) and the version shipped now.
type DecisionInput struct {
	DestExists  bool
	HasBaseline bool
	LocalHash   string
	OldHash     string
	NewHash     string
}

func Decide(input DecisionInput) Decision {
	switch {
	case !input.DestExists:
		return DecisionInstall
	case input.LocalHash == input.NewHash:
		return DecisionSkip
	case !input.HasBaseline:
		return DecisionConflict
	case input.LocalHash == input.OldHash:
		return DecisionInstall
	case input.NewHash == input.OldHash:
		return DecisionKeep
	default:
		return DecisionConflict
	}
}

type InstallOptions struct {
	// Force replaces locally modified files, keeping a .bck copy.
	Force  bool
	Logger *logging.Logger
}

type InstallResult struct {
	Path     string
	Decision Decision
	// Written is where the shipped content went; for a conflict without
	// Force that is Path plus ".new".
	Written string
}

// Install copies every file under "config" in sourceFS into destDir. Files
// the user changed are kept unless Force is set.
func Install(sourceFS fs.FS, destDir string, options InstallOptions) ([]InstallResult, error) {
	manifest, err := BuildManifest(sourceFS)
	if err != nil {
		return nil, err
	}
	baseline, err := loadBaseline(destDir)
	hasBaseline := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read baseline: %w", err)
	}

	relPaths := make([]string, 0, len(manifest))
	for relPath := range manifest {
		relPaths = append(relPaths, relPath)
	}
	sort.Strings(relPaths)

	results := make([]InstallResult, 0, len(relPaths))
	for _, relPath := range relPaths {
		destPath := filepath.Join(destDir, filepath.FromSlash(relPath))
		input := DecisionInput{
			HasBaseline: hasBaseline,
			OldHash:     baseline[relPath],
			NewHash:     manifest[relPath],
		}
		if info, err := os.Stat(destPath); err == nil {
			if info.IsDir() {
				return results, fmt.Errorf("destination is a directory: %s", destPath)
			}
			input.DestExists = true
			if input.LocalHash, err = hashFile(destPath); err != nil {
				return results, fmt.Errorf("hash existing file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return results, fmt.Errorf("stat destination: %w", err)
		}

		result := InstallResult{Path: destPath, Decision: Decide(input)}
		source := path.Join("config", relPath)
		switch {
		case result.Decision == DecisionInstall, result.Decision == DecisionConflict && options.Force:
			if input.DestExists {
				if err := backup(destPath); err != nil {
					return results, err
				}
				logWarn(options.Logger, "config file backed up", map[string]string{"path": destPath, "backup": destPath + ".bck"})
			}
			if err := copyFile(sourceFS, source, destPath); err != nil {
				return results, err
			}
			result.Written = destPath
			logInfo(options.Logger, "config file installed", map[string]string{"path": destPath})
		case result.Decision == DecisionConflict:
			result.Written = destPath + ".new"
			if err := copyFile(sourceFS, source, result.Written); err != nil {
				return results, err
			}
			logWarn(options.Logger, "config file modified locally, new version written alongside", map[string]string{
				"path": destPath,
				"new":  result.Written,
			})
		default:
			logDebug(options.Logger, "config file kept", map[string]string{"path": destPath, "decision": result.Decision.String()})
		}
		results = append(results, result)
	}
	return results, writeBaseline(destDir, manifest)
}

// BuildManifest hashes every file under "config" in sourceFS, keyed by its
// slash-separated path relative to that directory.
func BuildManifest(sourceFS fs.FS) (map[string]string, error) {
	manifest := map[string]string{}
	err := fs.WalkDir(sourceFS, "config", func(name string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		payload, err := fs.ReadFile(sourceFS, name)
		if err != nil {
			return err
		}
		manifest[strings.TrimPrefix(name, "config/")] = hashBytes(payload)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}
	return manifest, nil
}

func loadBaseline(destDir string) (map[string]string, error) {
	payload, err := os.ReadFile(filepath.Join(destDir, baselineName))
	if err != nil {
		return nil, err
	}
	baseline := map[string]string{}
	if err := json.Unmarshal(payload, &baseline); err != nil {
		return nil, err
	}
	return baseline, nil
}

func writeBaseline(destDir string, manifest map[string]string) error {
	payload, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	return writeFileAtomic(filepath.Join(destDir, baselineName), 0o644, bytes.NewReader(payload))
}

func copyFile(sourceFS fs.FS, source, destPath string) error {
	info, err := fs.Stat(sourceFS, source)
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}
	file, err := sourceFS.Open(source)
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer file.Close()
	mode := info.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	if err := writeFileAtomic(destPath, mode, file); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func backup(destPath string) error {
	backupPath := destPath + ".bck"
	if err := os.Remove(backupPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove backup file: %w", err)
	}
	if err := os.Rename(destPath, backupPath); err != nil {
		return fmt.Errorf("backup file: %w", err)
	}
	return nil
}

func writeFileAtomic(destPath string, mode fs.FileMode, reader io.Reader) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(dir, ".pathwatch-config-*")
	if err != nil {
		return err
	}
	defer func() {
		tempFile.Close()
		os.Remove(tempFile.Name())
	}()

	if _, err := io.Copy(tempFile, reader); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tempFile.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tempFile.Name(), destPath)
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func hashBytes(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func logDebug(logger *logging.Logger, message string, fields map[string]string) {
	if logger != nil {
		logger.Debug(message, fields)
	}
}

func logInfo(logger *logging.Logger, message string, fields map[string]string) {
	if logger != nil {
		logger.Info(message, fields)
	}
}

func logWarn(logger *logging.Logger, message string, fields map[string]string) {
	if logger != nil {
		logger.Warn(message, fields)
	}
}
