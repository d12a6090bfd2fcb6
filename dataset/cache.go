package dataset

import (
	"sync"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/sirupsen/logrus"
)

// Cache memoizes label tables per configuration fingerprint.
//
// A table is read from disk on the first request for a fingerprint and the same *LabelTable is
// returned afterwards. Configs that differ in dataset source, split or class count get their own
// entry, so switching configuration never returns a stale table.
type Cache struct {
	mu     sync.Mutex
	tables map[uint64]*LabelTable
	log    logrus.FieldLogger
}

// NewCache creates an empty cache.
func NewCache(logger logrus.FieldLogger) *Cache {
	return &Cache{
		tables: make(map[uint64]*LabelTable),
		log:    logger.WithField("component", "dataset"),
	}
}

// Table returns the label table of cfg, reading it on first use.
//
// Arguments:
//   - cfg: The run configuration; its DatasetPath is read.
//
// Returns:
//   - *LabelTable: The cached table.
//   - error: A wrapped fs.ErrNotExist if the dataset file is missing. Failures are not cached.
func (c *Cache) Table(cfg *config.Config) (*LabelTable, error) {
	key := cfg.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tables[key]; ok {
		return t, nil
	}

	t, err := ReadLabelTable(cfg.DatasetPath)
	if err != nil {
		return nil, err
	}
	if t.NumClasses() != cfg.NumClasses {
		c.log.WithFields(logrus.Fields{
			"dataset":     cfg.DatasetPath,
			"columns":     t.NumClasses(),
			"num_classes": cfg.NumClasses,
		}).Warn("label table class count differs from configured num_classes")
	}
	c.log.WithFields(logrus.Fields{"dataset": cfg.DatasetPath, "rows": t.Len()}).Info("loaded label table")

	c.tables[key] = t
	return t, nil
}

// TagMappings returns the index-to-tag mapping of cfg's label table.
func (c *Cache) TagMappings(cfg *config.Config) (TagMapping, error) {
	t, err := c.Table(cfg)
	if err != nil {
		return nil, err
	}
	return t.TagMapping(), nil
}

// TrainValidTestLoaders returns loaders over the three splits; only train is shuffled.
func (c *Cache) TrainValidTestLoaders(cfg *config.Config) (train, valid, test *Loader, err error) {
	if train, err = c.LoaderByName(ModeTrain, cfg, true); err != nil {
		return nil, nil, nil, err
	}
	if valid, err = c.LoaderByName(ModeValid, cfg, false); err != nil {
		return nil, nil, nil, err
	}
	if test, err = c.LoaderByName(ModeTest, cfg, false); err != nil {
		return nil, nil, nil, err
	}
	return train, valid, test, nil
}

// LoaderByName returns a loader over one split.
func (c *Cache) LoaderByName(mode Mode, cfg *config.Config, shuffle bool) (*Loader, error) {
	t, err := c.Table(cfg)
	if err != nil {
		return nil, err
	}
	ds, err := NewImageDataset(t, mode, cfg)
	if err != nil {
		return nil, err
	}
	return NewLoader(ds, cfg.BatchSize, shuffle, cfg.Seed), nil
}
