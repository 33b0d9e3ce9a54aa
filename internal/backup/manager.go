package backup

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"

	"mcbridge/internal/db"
	"mcbridge/internal/docker"
	"mcbridge/internal/models"
)

// Restore phases, in transaction order. Everything up to and including
// PhaseSnapshot is abortable; PhaseDelete is the point of no return.
type Phase string

const (
	PhaseStopping Phase = "stopping"
	PhaseSnapshot Phase = "snapshot"
	PhaseDelete   Phase = "delete"
	PhaseExtract  Phase = "extract"
	PhaseStarting Phase = "starting"
	PhaseDone     Phase = "done"
)

var ErrRestoreInProgress = errors.New("backup: a restore is already running")

// PhaseError reports which phase of a restore failed. SafetyArchive is
// set when the failure happened after the destructive delete: the data
// root is inconsistent and that archive is the manual recovery path.
type PhaseError struct {
	Phase         Phase
	Err           error
	SafetyArchive string
}

func (e *PhaseError) Error() string {
	if e.SafetyArchive != "" {
		return fmt.Sprintf("restore failed during %s after data was deleted (recover manually from %s): %v", e.Phase, e.SafetyArchive, e.Err)
	}
	return fmt.Sprintf("restore failed during %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// ContainerRuntime is the slice of the container client the manager
// drives; *docker.Client satisfies it.
type ContainerRuntime interface {
	Inspect(ctx context.Context, name string) (docker.Container, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, timeout time.Duration) error
}

type Manager struct {
	dataDir     string
	backupsDir  string
	folders     []string
	runtime     ContainerRuntime
	container   string
	stopTimeout time.Duration
	repo        *db.Repository
	log         *slog.Logger

	// restoreMu makes the whole restore transaction single-flight;
	// two concurrent restores would race on the data root.
	restoreMu sync.Mutex
}

func NewManager(dataDir, backupsDir string, folders []string, rt ContainerRuntime, container string, stopTimeout time.Duration, repo *db.Repository, logger *slog.Logger) *Manager {
	return &Manager{
		dataDir:     dataDir,
		backupsDir:  backupsDir,
		folders:     folders,
		runtime:     rt,
		container:   container,
		stopTimeout: stopTimeout,
		repo:        repo,
		log:         logger,
	}
}

// List enumerates the zip archives in the backups directory, newest
// first; equal modification times are broken by name.
func (m *Manager) List() ([]models.Backup, error) {
	entries, err := os.ReadDir(m.backupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []models.Backup
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, models.Backup{Name: e.Name(), ModTime: info.ModTime(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Snapshot archives the designated data folders into a timestamped
// zip in the backups directory and returns the archive name. Folders
// missing from the data root are skipped; a write error removes the
// partial archive.
func (m *Manager) Snapshot(prefix string) (string, error) {
	if err := os.MkdirAll(m.backupsDir, 0o755); err != nil {
		return "", fmt.Errorf("create backups dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.zip", prefix, time.Now().Format("20060102-150405"))
	path := filepath.Join(m.backupsDir, name)
	if err := m.writeArchive(path); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	m.log.Info("snapshot created", "archive", name)
	return name, nil
}

func (m *Manager) writeArchive(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})
	for _, folder := range m.folders {
		root := filepath.Join(m.dataDir, folder)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(m.dataDir, p)
			if err != nil {
				return err
			}
			w, err := zw.Create(filepath.ToSlash(rel))
			if err != nil {
				return err
			}
			src, err := os.Open(p)
			if err != nil {
				return err
			}
			defer src.Close()
			_, err = io.Copy(w, src)
			return err
		})
		if err != nil {
			_ = zw.Close()
			_ = f.Close()
			return fmt.Errorf("archive %s: %w", folder, err)
		}
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Restore replaces the designated data folders with the contents of
// the named archive. The transaction is single-flight and linear:
// stop, safety snapshot, delete, extract, start. The container is
// started again even when a destructive phase failed, so the server
// does not stay down; that start result is reported separately from
// the filesystem outcome. progress, if non-nil, is called on each
// phase transition.
func (m *Manager) Restore(ctx context.Context, archiveName string, progress func(Phase)) error {
	if !m.restoreMu.TryLock() {
		return ErrRestoreInProgress
	}
	defer m.restoreMu.Unlock()

	if filepath.Base(archiveName) != archiveName {
		return fmt.Errorf("backup: invalid archive name %q", archiveName)
	}
	archivePath := filepath.Join(m.backupsDir, archiveName)
	if _, err := os.Stat(archivePath); err != nil {
		return fmt.Errorf("backup: archive %s: %w", archiveName, err)
	}

	report := func(p Phase, ok bool, detail string) {
		if progress != nil && ok {
			progress(p)
		}
		m.audit(ctx, "restore", string(p), ok, detail)
	}

	report(PhaseStopping, true, archiveName)
	c, err := m.runtime.Inspect(ctx, m.container)
	switch {
	case err == nil && c.Status == docker.StatusRunning:
		if err := m.runtime.Stop(ctx, m.container, m.stopTimeout); err != nil {
			report(PhaseStopping, false, err.Error())
			return &PhaseError{Phase: PhaseStopping, Err: err}
		}
	case err != nil && !errors.Is(err, docker.ErrNotFound):
		report(PhaseStopping, false, err.Error())
		return &PhaseError{Phase: PhaseStopping, Err: err}
	}

	report(PhaseSnapshot, true, "")
	safety, err := m.Snapshot("pre-restore-backup")
	if err != nil {
		report(PhaseSnapshot, false, err.Error())
		return &PhaseError{Phase: PhaseSnapshot, Err: err}
	}

	// Point of no automatic return: from here the transaction runs to
	// completion and failures are reported with the safety archive.
	var destructErr *PhaseError

	report(PhaseDelete, true, "")
	for _, folder := range m.folders {
		if err := os.RemoveAll(filepath.Join(m.dataDir, folder)); err != nil {
			report(PhaseDelete, false, err.Error())
			destructErr = &PhaseError{Phase: PhaseDelete, Err: err, SafetyArchive: safety}
			break
		}
	}

	if destructErr == nil {
		report(PhaseExtract, true, "")
		if err := m.extract(archivePath); err != nil {
			report(PhaseExtract, false, err.Error())
			destructErr = &PhaseError{Phase: PhaseExtract, Err: err, SafetyArchive: safety}
		}
	}

	report(PhaseStarting, true, "")
	startErr := m.runtime.Start(ctx, m.container)
	if startErr != nil {
		report(PhaseStarting, false, startErr.Error())
	}

	if destructErr != nil {
		if startErr != nil {
			m.log.Error("container start also failed after restore error", "err", startErr)
		}
		return destructErr
	}
	if startErr != nil {
		// Filesystem restore succeeded; only the start failed.
		return &PhaseError{Phase: PhaseStarting, Err: startErr}
	}
	report(PhaseDone, true, archiveName)
	m.log.Info("restore completed", "archive", archiveName, "safety", safety)
	return nil
}

// extract unpacks an archive into the data root. Entry paths are
// validated against the root so a crafted archive cannot escape it.
func (m *Manager) extract(archivePath string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
	for _, entry := range zr.File {
		rel := filepath.Clean(filepath.FromSlash(entry.Name))
		if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) || filepath.IsAbs(rel) {
			return fmt.Errorf("archive entry escapes data root: %s", entry.Name)
		}
		dst := filepath.Join(m.dataDir, rel)
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := extractFile(entry, dst); err != nil {
			return fmt.Errorf("extract %s: %w", entry.Name, err)
		}
	}
	return nil
}

func extractFile(entry *zip.File, dst string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (m *Manager) audit(ctx context.Context, op, phase string, ok bool, detail string) {
	err := m.repo.InsertOpsEvent(ctx, models.OpsEvent{
		TS:     time.Now().UTC(),
		Op:     op,
		Phase:  phase,
		OK:     ok,
		Detail: detail,
	})
	if err != nil {
		m.log.Warn("record ops event", "err", err)
	}
}
