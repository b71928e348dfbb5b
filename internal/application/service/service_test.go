package service

import (
	"context"
	"sync"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/infrastructure/logger"
)

func newTestLogger() *logger.Logger {
	base, _ := logtest.NewNullLogger()
	return logger.FromLogrus(base)
}

type memoryRepository struct {
	mu       sync.Mutex
	files    map[string]*model.Config
	saves    int
	onChange func(*model.Config)
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{files: map[string]*model.Config{}}
}

func (r *memoryRepository) Load(path string) (*model.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.files[path]; ok {
		cp := *cfg
		return &cp, nil
	}
	return model.NewConfig(), nil
}

func (r *memoryRepository) Save(config *model.Config, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *config
	cp.Plugins = map[string]model.PluginConfig{}
	for k, v := range config.Plugins {
		cp.Plugins[k] = v
	}
	r.files[path] = &cp
	r.saves++
	return nil
}

func (r *memoryRepository) GetDefaultPath() (string, error) {
	return "/home/test/.haxorport/relay.yaml", nil
}

func (r *memoryRepository) Watch(_ string, onChange func(*model.Config)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = onChange
	return nil
}

func (r *memoryRepository) saved(path string) *model.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files[path]
}

type fakeTunnel struct {
	initErr     error
	initialized int
	closed      int
	closeCtxErr error
}

func (t *fakeTunnel) Initialize(context.Context) error {
	t.initialized++
	return t.initErr
}

func (t *fakeTunnel) Close(ctx context.Context) error {
	t.closed++
	t.closeCtxErr = ctx.Err()
	return nil
}

type levelRecorder struct {
	levels []string
}

func (l *levelRecorder) SetLevel(level string) {
	l.levels = append(l.levels, level)
}

type optionsCell struct {
	opts model.RelayOptions
}

func (c *optionsCell) Current() model.RelayOptions { return c.opts }

func (c *optionsCell) Update(opts model.RelayOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	c.opts = opts
	return nil
}
