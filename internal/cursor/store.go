package cursor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the error class for cursor persistence failures.
var Error = errs.Class("cursor")

// ErrLocked is returned by LockPartition when another process holds the
// partition.
var ErrLocked = Error.New("partition is locked by another process")

// Checkpoint is the persisted state of one partition.
type Checkpoint struct {
	Cursor        Cursor
	RowsProcessed int64
	UpdatedAt     time.Time
}

type entry struct {
	ProjectID     string    `json:"project_id"`
	Type          string    `json:"type"`
	Date          string    `json:"date"`
	ID            string    `json:"id"`
	RowsProcessed int64     `json:"rows_processed"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FileStore persists checkpoints as a JSON object keyed by partition.
// Entries of other partitions survive every Save.
type FileStore struct {
	path string
	log  *zap.Logger
	now  func() time.Time
}

// NewFileStore returns a store backed by path. The file is created lazily.
func NewFileStore(path string, log *zap.Logger) *FileStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{path: path, log: log.Named("cursor"), now: time.Now}
}

// Path returns the cursor file location.
func (s *FileStore) Path() string { return s.path }

// Load returns the checkpoint of partition. A missing, unreadable or corrupt
// file yields the minimum cursor; the problem is logged, never returned.
func (s *FileStore) Load(partition string) Checkpoint {
	all, err := s.read()
	if err != nil {
		s.log.Warn("cursor file unreadable, starting from minimum",
			zap.String("path", s.path), zap.String("partition", partition), zap.Error(err))
		return Checkpoint{Cursor: Min()}
	}
	e, ok := all[partition]
	if !ok {
		s.log.Info("no saved cursor, starting from minimum",
			zap.String("path", s.path), zap.String("partition", partition))
		return Checkpoint{Cursor: Min()}
	}
	date, err := ParseDate(e.Date)
	if err != nil {
		s.log.Warn("saved cursor has invalid date, starting from minimum",
			zap.String("partition", partition), zap.String("date", e.Date), zap.Error(err))
		return Checkpoint{Cursor: Min()}
	}
	cp := Checkpoint{
		Cursor:        Cursor{ProjectID: e.ProjectID, Type: e.Type, Date: date, ID: e.ID},
		RowsProcessed: e.RowsProcessed,
		UpdatedAt:     e.UpdatedAt,
	}
	s.log.Info("resuming from saved cursor",
		zap.String("partition", partition),
		zap.String("project_id", e.ProjectID),
		zap.String("type", e.Type),
		zap.String("date", e.Date),
		zap.String("id", e.ID),
		zap.Int64("rows_processed", e.RowsProcessed))
	return cp
}

// Save merges cp into the file under partition. The file is replaced
// atomically so a failed write leaves the previous content intact. Callers
// log and count the returned error; it must not abort a run.
func (s *FileStore) Save(partition string, cp Checkpoint) (err error) {
	unlock, err := lockFile(s.path+".lock", false)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(unlock())) }()

	all, rerr := s.read()
	if rerr != nil {
		s.log.Warn("discarding unreadable cursor file on save",
			zap.String("path", s.path), zap.Error(rerr))
		all = map[string]entry{}
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now().UTC()
	}
	all[partition] = entry{
		ProjectID:     cp.Cursor.ProjectID,
		Type:          cp.Cursor.Type,
		Date:          cp.Cursor.DateString(),
		ID:            cp.Cursor.ID,
		RowsProcessed: cp.RowsProcessed,
		UpdatedAt:     cp.UpdatedAt,
	}
	return Error.Wrap(s.write(all))
}

// Clear removes the entry of partition, keeping all others.
func (s *FileStore) Clear(partition string) (err error) {
	unlock, err := lockFile(s.path+".lock", false)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(unlock())) }()

	all, err := s.read()
	if err != nil {
		return Error.Wrap(err)
	}
	if _, ok := all[partition]; !ok {
		return nil
	}
	delete(all, partition)
	return Error.Wrap(s.write(all))
}

// LockPartition takes an exclusive, non-blocking lock for running partition
// against this cursor file. The returned func releases it.
func (s *FileStore) LockPartition(partition string) (func() error, error) {
	unlock, err := lockFile(s.path+"."+partition+".lock", true)
	if errors.Is(err, ErrLocked) {
		return nil, err
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return unlock, nil
}

func (s *FileStore) read() (map[string]entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	all := map[string]entry{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (s *FileStore) write(all map[string]entry) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		return errs.Combine(err, tmp.Close())
	}
	if err := tmp.Sync(); err != nil {
		return errs.Combine(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
