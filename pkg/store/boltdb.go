package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
	"github.com/poiesis-run/poiesis/pkg/poiesistypes"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketTasks = []byte("tasks")

// BoltStore implements Store using a single bucket of id -> json(Task),
// grounded directly on the teacher's bucket-per-entity BoltDB pattern. List
// filtering, sorting, and pagination are computed by a full bucket scan,
// the same approach the teacher's ListXByName helpers use — acceptable at
// the per-cluster task volumes this engine targets.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB-backed Store under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "poiesis.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindStorageUnavailable, "open database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTasks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, poiesiserr.Wrap(poiesiserr.KindStorageUnavailable, "create bucket", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Create(task *poiesistypes.Task) (string, error) {
	task.ID = uuid.New().String()
	task.State = poiesistypes.StateQueued
	task.CreationTime = time.Now().UTC()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put([]byte(task.ID), data)
	})
	if err != nil {
		return "", poiesiserr.Wrap(poiesiserr.KindStorageUnavailable, "create task", err)
	}
	return task.ID, nil
}

func (s *BoltStore) getLocked(tx *bolt.Tx, id string) (*poiesistypes.Task, error) {
	b := tx.Bucket(bucketTasks)
	data := b.Get([]byte(id))
	if data == nil {
		return nil, poiesiserr.New(poiesiserr.KindNotFound, "task not found: "+id)
	}
	var task poiesistypes.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindStorageUnavailable, "decode task", err)
	}
	return &task, nil
}

func (s *BoltStore) Get(id, userID string, view poiesistypes.View) (*poiesistypes.Task, error) {
	var task *poiesistypes.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		t, err := s.getLocked(tx, id)
		if err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	// A task owned by someone else surfaces identically to an unknown id,
	// per spec section 8 property 4 ("never leak existence").
	if task.UserID != userID {
		return nil, poiesiserr.New(poiesiserr.KindNotFound, "task not found: "+id)
	}
	if view == "" {
		view = poiesistypes.ViewFull
	}
	return applyView(task, view), nil
}

func (s *BoltStore) GetAny(id string) (*poiesistypes.Task, error) {
	var task *poiesistypes.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		t, err := s.getLocked(tx, id)
		if err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *BoltStore) List(filter ListFilter) ([]*poiesistypes.Task, string, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 256
	}
	if pageSize > 2048 {
		pageSize = 2048
	}

	var all []*poiesistypes.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(_, data []byte) error {
			var task poiesistypes.Task
			if err := json.Unmarshal(data, &task); err != nil {
				return err
			}
			if task.UserID != filter.UserID {
				return nil
			}
			if filter.NamePrefix != "" && !strings.HasPrefix(task.Name, filter.NamePrefix) {
				return nil
			}
			if filter.State != "" && task.State != filter.State {
				return nil
			}
			if !matchesTags(task.Tags, filter.Tags) {
				return nil
			}
			all = append(all, &task)
			return nil
		})
	})
	if err != nil {
		return nil, "", poiesiserr.Wrap(poiesiserr.KindStorageUnavailable, "list tasks", err)
	}

	// creation_time desc, id asc tie-break (spec section 9 Open Question).
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreationTime.Equal(all[j].CreationTime) {
			return all[i].CreationTime.After(all[j].CreationTime)
		}
		return all[i].ID < all[j].ID
	})

	start := 0
	if filter.PageToken != "" {
		cursor, err := decodeToken(filter.PageToken)
		if err != nil {
			return nil, "", poiesiserr.New(poiesiserr.KindValidation, "invalid page_token")
		}
		for i, t := range all {
			if t.CreationTime.Equal(cursor.creationTime) && t.ID == cursor.id {
				start = i + 1
				break
			}
		}
	}

	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	if start > len(all) {
		start = len(all)
	}
	page := all[start:end]

	var nextToken string
	if end < len(all) {
		last := page[len(page)-1]
		nextToken = encodeToken(last.CreationTime, last.ID)
	}

	projected := make([]*poiesistypes.Task, len(page))
	for i, t := range page {
		projected[i] = applyView(t, filter.View)
	}
	return projected, nextToken, nil
}

// matchesTags implements spec section 6.1's tag filter semantics: every
// (k,v) pair must match; an empty value matches any value for that key but
// an absent key never matches.
func matchesTags(taskTags, filterTags map[string]string) bool {
	for k, v := range filterTags {
		tv, ok := taskTags[k]
		if !ok {
			return false
		}
		if v != "" && tv != v {
			return false
		}
	}
	return true
}

func applyView(task *poiesistypes.Task, view poiesistypes.View) *poiesistypes.Task {
	clone := *task
	switch view {
	case poiesistypes.ViewMinimal:
		return &poiesistypes.Task{ID: clone.ID, State: clone.State}
	case poiesistypes.ViewBasic:
		clone.Logs = redactLogs(clone.Logs)
		return &clone
	default: // ViewFull and unset (internal callers) get everything.
		return &clone
	}
}

// redactLogs strips stdout/stderr/content and system_logs for BASIC view.
func redactLogs(logs []poiesistypes.TaskLog) []poiesistypes.TaskLog {
	out := make([]poiesistypes.TaskLog, len(logs))
	for i, l := range logs {
		redacted := l
		redacted.SystemLogs = nil
		redacted.Logs = make([]poiesistypes.ExecutorLog, len(l.Logs))
		for j, el := range l.Logs {
			el.Stdout = ""
			el.Stderr = ""
			redacted.Logs[j] = el
		}
		out[i] = redacted
	}
	return out
}

func (s *BoltStore) Transition(id string, from, to poiesistypes.State) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		task, err := s.getLocked(tx, id)
		if err != nil {
			return err
		}
		if task.State != from {
			return poiesiserr.New(poiesiserr.KindConflict,
				fmt.Sprintf("task %s: expected state %s, got %s", id, from, task.State))
		}
		if !poiesistypes.CanTransition(from, to) {
			return poiesiserr.New(poiesiserr.KindConflict,
				fmt.Sprintf("task %s: illegal transition %s -> %s", id, from, to))
		}
		task.State = to
		return s.putLocked(tx, task)
	})
}

func (s *BoltStore) putLocked(tx *bolt.Tx, task *poiesistypes.Task) error {
	b := tx.Bucket(bucketTasks)
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return b.Put([]byte(task.ID), data)
}

func (s *BoltStore) mutate(id string, fn func(task *poiesistypes.Task)) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		task, err := s.getLocked(tx, id)
		if err != nil {
			return err
		}
		fn(task)
		return s.putLocked(tx, task)
	})
	if err != nil {
		if poiesiserr.Is(err, poiesiserr.KindNotFound) {
			return err
		}
		return poiesiserr.Wrap(poiesiserr.KindStorageUnavailable, "mutate task "+id, err)
	}
	return nil
}

func (s *BoltStore) AppendExecutorLog(id string, index int, log poiesistypes.ExecutorLog) error {
	return s.mutate(id, func(task *poiesistypes.Task) {
		tl := task.CurrentLog()
		for len(tl.Logs) <= index {
			tl.Logs = append(tl.Logs, poiesistypes.ExecutorLog{})
		}
		tl.Logs[index] = log
	})
}

func (s *BoltStore) AppendOutputLog(id string, log poiesistypes.OutputFileLog) error {
	return s.mutate(id, func(task *poiesistypes.Task) {
		tl := task.CurrentLog()
		tl.Outputs = append(tl.Outputs, log)
	})
}

func (s *BoltStore) AppendSystemLog(id string, text string) error {
	return s.mutate(id, func(task *poiesistypes.Task) {
		tl := task.CurrentLog()
		tl.SystemLogs = append(tl.SystemLogs, text)
	})
}

func (s *BoltStore) SetStartTime(id string) error {
	return s.mutate(id, func(task *poiesistypes.Task) {
		now := time.Now().UTC()
		task.CurrentLog().StartTime = &now
	})
}

func (s *BoltStore) SetEndTime(id string) error {
	return s.mutate(id, func(task *poiesistypes.Task) {
		now := time.Now().UTC()
		task.CurrentLog().EndTime = &now
	})
}

type pageCursor struct {
	creationTime time.Time
	id           string
}

func encodeToken(t time.Time, id string) string {
	raw := strconv.FormatInt(t.UnixNano(), 10) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeToken(token string) (pageCursor, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return pageCursor{}, err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return pageCursor{}, fmt.Errorf("malformed page token")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return pageCursor{}, err
	}
	return pageCursor{creationTime: time.Unix(0, nanos).UTC(), id: parts[1]}, nil
}
