package orm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/syssam/strata"
	"github.com/syssam/strata/compiler"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/privacy"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/record"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/uow"
)

// config holds the configuration of a DB.
type config struct {
	logger   *slog.Logger
	lookups  *expr.Registry
	backends []dialect.Backend
	fallback string
	capacity int
	debug    bool
	policies map[string]privacy.Policies
}

// Option function to configure the DB.
type Option func(*config)

// WithBackend adds a backend. Models are stored on the backend their
// declaration names; the first backend added is the default.
func WithBackend(b dialect.Backend) Option {
	return func(c *config) {
		c.backends = append(c.backends, b)
	}
}

// WithDefaultBackend names the backend of models that do not declare one.
func WithDefaultBackend(name string) Option {
	return func(c *config) {
		c.fallback = name
	}
}

// WithLookups replaces the lookup registry. The default holds the builtin
// lookups and transforms.
func WithLookups(r *expr.Registry) Option {
	return func(c *config) {
		c.lookups = r
	}
}

// WithLogger sets the logger of the DB and the sessions it creates.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithIdentityCapacity bounds the identity map.
func WithIdentityCapacity(n int) Option {
	return func(c *config) {
		c.capacity = n
	}
}

// Debug enables statement logging at debug level.
func Debug() Option {
	return func(c *config) {
		c.debug = true
	}
}

// Listener is called after an instance was written.
type Listener func(ctx context.Context, inst *record.Instance)

// DB is the context queries and instances run in: the model registry, the
// lookups, the identity map and the backends. Several DBs can live in one
// process; Default holds the one package-level helpers use.
//
// A DB is meant for one flow of work at a time, like the identity map it
// owns.
type DB struct {
	config
	reg      *schema.Registry
	identity *record.IdentityMap
	backends map[string]dialect.Backend
	configs  map[string]compiler.Config

	mu       sync.RWMutex
	onSave   []Listener
	onDelete []Listener
}

// New returns a DB over the models of reg. Every relationship is resolved
// up front, so declaration errors surface here.
func New(reg *schema.Registry, opts ...Option) (*DB, error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.lookups == nil {
		cfg.lookups = expr.NewRegistry()
	}
	if len(cfg.backends) == 0 {
		return nil, strata.NewConfigError("", "no backend configured")
	}
	if cfg.fallback == "" {
		cfg.fallback = cfg.backends[0].Name()
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	for name := range cfg.policies {
		if _, err := reg.Metadata(name); name != "" && err != nil {
			return nil, strata.NewConfigError(name, "policy of unknown model")
		}
	}
	db := &DB{
		config:   cfg,
		reg:      reg,
		backends: make(map[string]dialect.Backend, len(cfg.backends)),
		configs:  make(map[string]compiler.Config, len(cfg.backends)),
	}
	for _, b := range cfg.backends {
		if _, ok := db.backends[b.Name()]; ok {
			return nil, strata.NewConfigError("", "duplicate backend %q", b.Name())
		}
		flavor, err := compiler.FlavorOf(b.Dialect())
		if err != nil {
			return nil, strata.NewConfigError("", "backend %q: %v", b.Name(), err)
		}
		db.backends[b.Name()] = b
		db.configs[b.Name()] = compiler.Config{Registry: reg, Lookups: cfg.lookups, Flavor: flavor}
	}
	if _, ok := db.backends[cfg.fallback]; !ok {
		return nil, strata.NewConfigError("", "unknown default backend %q", cfg.fallback)
	}
	for _, name := range reg.Models() {
		meta, err := reg.Metadata(name)
		if err != nil {
			return nil, err
		}
		if _, err := db.backendOf(meta); err != nil {
			return nil, err
		}
	}
	identity, err := record.NewIdentityMap(cfg.capacity)
	if err != nil {
		return nil, fmt.Errorf("orm: identity map: %w", err)
	}
	db.identity = identity
	return db, nil
}

// Registry returns the model registry.
func (db *DB) Registry() *schema.Registry { return db.reg }

// Lookups returns the lookup registry.
func (db *DB) Lookups() *expr.Registry { return db.lookups }

// Identity returns the identity map.
func (db *DB) Identity() *record.IdentityMap { return db.identity }

// Logger returns the logger.
func (db *DB) Logger() *slog.Logger { return db.logger }

// Matcher returns a matcher evaluating filters in memory with the lookups
// of the DB.
func (db *DB) Matcher() *record.Matcher {
	return &record.Matcher{Registry: db.reg, Lookups: db.lookups}
}

// Backends returns the backend names in the order they were added.
func (db *DB) Backends() []string {
	names := make([]string, len(db.config.backends))
	for i, b := range db.config.backends {
		names[i] = b.Name()
	}
	return names
}

// Backend returns the backend that stores model.
func (db *DB) Backend(model string) (dialect.Backend, error) {
	meta, err := db.reg.Metadata(model)
	if err != nil {
		return nil, err
	}
	name, err := db.backendOf(meta)
	if err != nil {
		return nil, err
	}
	return db.backends[name], nil
}

func (db *DB) backendOf(meta *schema.Metadata) (string, error) {
	name := meta.Backend
	if name == "" {
		name = db.fallback
	}
	if _, ok := db.backends[name]; !ok {
		return "", strata.NewConfigError(meta.Name, "unknown backend %q", name)
	}
	return name, nil
}

// target returns the backend of a model and the compiler configuration
// for it.
func (db *DB) target(model string) (*schema.Metadata, dialect.Backend, compiler.Config, error) {
	meta, err := db.reg.Metadata(model)
	if err != nil {
		return nil, nil, compiler.Config{}, err
	}
	name, err := db.backendOf(meta)
	if err != nil {
		return nil, nil, compiler.Config{}, err
	}
	return meta, db.backends[name], db.configs[name], nil
}

// Connect connects every backend.
func (db *DB) Connect(ctx context.Context) error {
	for _, b := range db.config.backends {
		if err := b.Connect(ctx); err != nil {
			return fmt.Errorf("orm: connect %s: %w", b.Name(), err)
		}
	}
	return nil
}

// Close closes every backend and releases the identity map.
func (db *DB) Close() error {
	var errs []error
	for _, b := range db.config.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("orm: close %s: %w", b.Name(), err))
		}
	}
	db.identity.Close()
	return errors.Join(errs...)
}

// CreateTables creates the tables of every concrete model on its backend,
// referenced tables first.
func (db *DB) CreateTables(ctx context.Context) error {
	for _, b := range db.config.backends {
		cfg := db.configs[b.Name()]
		metas, err := cfg.Tables(func(m *schema.Metadata) bool {
			name, err := db.backendOf(m)
			return err == nil && name == b.Name()
		})
		if err != nil {
			return err
		}
		for _, m := range metas {
			ddl, err := cfg.CreateTable(m)
			if err != nil {
				return err
			}
			if _, err := db.exec(ctx, b, &dialect.Statement{SQL: ddl}); err != nil {
				return fmt.Errorf("orm: create table %s: %w", m.Table, err)
			}
		}
	}
	return nil
}

// Query returns a query over model bound to db.
func (db *DB) Query(model string) *query.Query { return query.New(db, model) }

// NewInstance returns a new, unsaved instance of model bound to db.
func (db *DB) NewInstance(model string, values map[string]any) (*record.Instance, error) {
	meta, err := db.reg.Metadata(model)
	if err != nil {
		return nil, err
	}
	inst, err := record.New(meta, values)
	if err != nil {
		return nil, err
	}
	inst.Bind(db)
	return inst, nil
}

// Create returns a saved instance of model.
func (db *DB) Create(ctx context.Context, model string, values map[string]any) (*record.Instance, error) {
	inst, err := db.NewInstance(model, values)
	if err != nil {
		return nil, err
	}
	ok, err := db.Save(ctx, inst)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, strata.NewQueryError(model, "create", errors.New("no row inserted"))
	}
	return inst, nil
}

// Get returns the instance of model with primary key pk. The identity map
// is consulted first, unless a policy guards the model. ok is false when no
// row has the key.
func (db *DB) Get(ctx context.Context, model string, pk ...any) (inst *record.Instance, ok bool, err error) {
	meta, err := db.reg.Metadata(model)
	if err != nil {
		return nil, false, err
	}
	if len(pk) != len(meta.PrimaryKey) {
		return nil, false, strata.NewQueryError(model, "get", fmt.Errorf("want %d key values, got %d", len(meta.PrimaryKey), len(pk)))
	}
	if key, ok := record.KeyOf(model, normalizeKey(meta, pk)); ok && !db.guarded(model) {
		if cur, ok := db.identity.Get(key); ok {
			return cur, true, nil
		}
	}
	conds := make([]*expr.Q, len(pk))
	for i, name := range meta.PrimaryKey {
		conds[i] = expr.Cond(name, pk[i])
	}
	m, ok, err := db.Query(model).Where(conds...).OrderBy().Find(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	return m.Instance(), true, nil
}

// normalizeKey converts key values to the host form instances hold, so
// that Get(ctx, "Product", 1) finds an instance keyed by int64(1).
func normalizeKey(meta *schema.Metadata, pk []any) []any {
	out := slices.Clone(pk)
	for i, name := range meta.PrimaryKey {
		d, _ := meta.Field(name)
		if v, err := d.Normalize(pk[i]); err == nil {
			out[i] = v
		}
	}
	return out
}

// Session returns a unit of work writing through db. Instances saved or
// deleted with a context carrying the session are journaled until the
// session commits.
func (db *DB) Session(opts ...uow.Option) *uow.Session {
	opts = append([]uow.Option{uow.WithLogger(db.logger)}, opts...)
	return uow.NewSession(uow.New(db, opts...), db)
}

// Tx runs fn in a new session and commits it. The session is rolled back
// and its instances reverted when fn fails.
//
//	err := db.Tx(ctx, func(ctx context.Context) error {
//		order.Set("qty", 3)
//		_, err := order.Save(ctx)
//		return err
//	})
func (db *DB) Tx(ctx context.Context, fn func(ctx context.Context) error, opts ...uow.Option) error {
	return db.Session(opts...).Run(ctx, fn)
}

// OnSave registers a listener called after every insert or update.
func (db *DB) OnSave(fn Listener) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.onSave = append(db.onSave, fn)
}

// OnDelete registers a listener called after every delete.
func (db *DB) OnDelete(fn Listener) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.onDelete = append(db.onDelete, fn)
}

func (db *DB) signal(ctx context.Context, op uow.Op, inst *record.Instance) {
	db.mu.RLock()
	listeners := db.onSave
	if op == uow.OpDelete {
		listeners = db.onDelete
	}
	listeners = slices.Clone(listeners)
	db.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, inst)
	}
}

var (
	_ query.Executor = (*DB)(nil)
	_ record.Store   = (*DB)(nil)
	_ uow.Target     = (*DB)(nil)
)
