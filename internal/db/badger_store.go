package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/models"
)

const (
	jobKeyPrefix    = "job:"
	maxTxnConflicts = 5
)

type BadgerConfig struct {
	Path       string
	InMemory   bool
	GCInterval time.Duration
	Log        *zap.Logger
}

// BadgerStore guarda cada job como JSON com TTL nativo do badger; a retenção
// é cumprida pela expiração das entradas.
type BadgerStore struct {
	db     *badger.DB
	log    *zap.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// zapBadgerLogger adapta o logger interno do badger para zap.
type zapBadgerLogger struct{ s *zap.SugaredLogger }

func (l zapBadgerLogger) Errorf(f string, a ...interface{})   { l.s.Errorf(f, a...) }
func (l zapBadgerLogger) Warningf(f string, a ...interface{}) { l.s.Warnf(f, a...) }
func (l zapBadgerLogger) Infof(f string, a ...interface{})    { l.s.Debugf(f, a...) }
func (l zapBadgerLogger) Debugf(f string, a ...interface{})   { l.s.Debugf(f, a...) }

func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("BADGER_PATH é obrigatório para store persistente")
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("criar diretório %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(zapBadgerLogger{s: log.Named("badger").Sugar()})

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("abrir badger: %w", err)
	}
	s := &BadgerStore{db: bdb, log: log}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Warn("badger GC falhou", zap.Error(err))
			}
		}
	}
}

func (s *BadgerStore) Create(_ context.Context, job *models.Job, ttl time.Duration) error {
	val, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("serializar job: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(jobKey(job.ID)); err == nil {
			return fmt.Errorf("job %s já existe", job.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(entry(job.ID, val, ttl))
	})
}

func (s *BadgerStore) Get(_ context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := readJob(txn, id, &job)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BadgerStore) MarkRunning(_ context.Context, id string, at time.Time) error {
	return s.mutate(id, 0, func(job *models.Job) error { return markRunning(job, at) })
}

func (s *BadgerStore) Complete(_ context.Context, id string, result *models.JobResult, at time.Time, ttl time.Duration) error {
	return s.mutate(id, ttl, func(job *models.Job) error { return complete(job, result, at) })
}

// mutate lê, aplica fn e regrava na mesma transação. Conflitos de
// transação (outra escrita concorrente no mesmo job) são refeitos; a nova
// leitura já enxerga o estado terminal gravado pelo concorrente.
func (s *BadgerStore) mutate(id string, ttl time.Duration, fn func(*models.Job) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			var job models.Job
			item, err := readJob(txn, id, &job)
			if err != nil {
				return err
			}
			keepTTL := ttl
			if exp := item.ExpiresAt(); keepTTL == 0 && exp > 0 {
				// mantém a expiração original
				keepTTL = max(time.Until(time.Unix(int64(exp), 0)), time.Second)
			}
			if err := fn(&job); err != nil {
				return err
			}
			val, err := json.Marshal(&job)
			if err != nil {
				return fmt.Errorf("serializar job: %w", err)
			}
			return txn.SetEntry(entry(id, val, keepTTL))
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxTxnConflicts {
			continue
		}
		return err
	}
}

func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
	}
	return s.db.Close()
}

func readJob(txn *badger.Txn, id string, job *models.Job) (*badger.Item, error) {
	item, err := txn.Get(jobKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, item.Value(func(val []byte) error {
		return json.Unmarshal(val, job)
	})
}

func entry(id string, val []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry(jobKey(id), val)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

func jobKey(id string) []byte { return []byte(jobKeyPrefix + id) }
