package registry

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/yourusername/mc-server-manager/internal/server"
)

// Heap is a max/initial heap pair in GB.
type Heap struct {
	MaxGB  int
	InitGB int
}

// Defaults holds the heap applied to discovered instances. Overrides are
// keyed by directory name.
type Defaults struct {
	Heap      Heap
	Overrides map[string]Heap
}

func (d Defaults) heapFor(name string) Heap {
	if h, ok := d.Overrides[name]; ok {
		return h
	}
	return d.Heap
}

// PIDStore supplies pids recorded by a previous manager run.
type PIDStore interface {
	LastPIDs() (map[string]int, error)
}

// Discover returns one instance per direct subdirectory of root, sorted by
// case-insensitive name. A missing or unreadable root yields no instances.
func Discover(root string, defaults Defaults, opts ...server.Option) []*server.Instance {
	dirs := listInstallDirs(root)
	instances := make([]*server.Instance, 0, len(dirs))
	for _, dir := range dirs {
		heap := defaults.heapFor(filepath.Base(dir))
		instances = append(instances, server.NewInstance(dir, heap.MaxGB, heap.InitGB, opts...))
	}
	sortByName(instances)
	return instances
}

func listInstallDirs(root string) []string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[Registry] Servers directory does not exist: %s", abs)
		} else {
			log.Printf("[Registry] Failed to read servers from %s: %v", abs, err)
		}
		return nil
	}

	var dirs []string
	for _, entry := range entries {
		full := filepath.Join(abs, entry.Name())
		// follow symlinked installs
		info, err := os.Stat(full)
		if err != nil || !info.IsDir() {
			continue
		}
		dirs = append(dirs, full)
	}
	return dirs
}

func sortByName(instances []*server.Instance) {
	sort.SliceStable(instances, func(a, b int) bool {
		return strings.ToLower(instances[a].Name()) < strings.ToLower(instances[b].Name())
	})
}

// Registry owns the working set of instances for the lifetime of the
// manager process.
type Registry struct {
	root     string
	defaults Defaults
	opts     []server.Option
	store    PIDStore

	mu        sync.RWMutex
	instances []*server.Instance
	byName    map[string]*server.Instance
}

// New scans root and returns a populated registry. store may be nil.
func New(root string, defaults Defaults, store PIDStore, opts ...server.Option) *Registry {
	r := &Registry{
		root:     root,
		defaults: defaults,
		opts:     opts,
		store:    store,
		byName:   make(map[string]*server.Instance),
	}
	r.Refresh()
	return r
}

// Root returns the scanned installation root.
func (r *Registry) Root() string {
	return r.root
}

// Refresh rescans the root. Instances already known keep their identity so
// owned processes survive a refresh; vanished directories are dropped unless
// their server is still running.
func (r *Registry) Refresh() []*server.Instance {
	discovered := Discover(r.root, r.defaults, r.opts...)
	pids := r.lastPIDs()

	r.mu.Lock()
	defer r.mu.Unlock()

	byPath := make(map[string]*server.Instance, len(r.instances))
	for _, inst := range r.instances {
		byPath[inst.Path()] = inst
	}

	next := make([]*server.Instance, 0, len(discovered))
	seen := make(map[string]struct{}, len(discovered))
	for _, inst := range discovered {
		if existing, ok := byPath[inst.Path()]; ok {
			inst = existing
		} else if pid, ok := pids[inst.Name()]; ok {
			inst.RestorePID(pid)
		}
		seen[inst.Path()] = struct{}{}
		next = append(next, inst)
	}
	for _, inst := range r.instances {
		if _, ok := seen[inst.Path()]; ok {
			continue
		}
		if inst.IsRunning() {
			log.Printf("[Registry] Keeping %s: directory vanished but server is running", inst.Name())
			next = append(next, inst)
		}
	}
	sortByName(next)

	r.instances = next
	r.byName = make(map[string]*server.Instance, len(next))
	for _, inst := range next {
		r.byName[inst.Name()] = inst
	}

	return append([]*server.Instance(nil), next...)
}

func (r *Registry) lastPIDs() map[string]int {
	if r.store == nil {
		return nil
	}
	pids, err := r.store.LastPIDs()
	if err != nil {
		log.Printf("[Registry] Failed to load recorded pids: %v", err)
		return nil
	}
	return pids
}

// All returns the instances in presentation order.
func (r *Registry) All() []*server.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*server.Instance(nil), r.instances...)
}

// Get looks an instance up by name, falling back to a case-insensitive match.
func (r *Registry) Get(name string) (*server.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if inst, ok := r.byName[name]; ok {
		return inst, true
	}
	for _, inst := range r.instances {
		if strings.EqualFold(inst.Name(), name) {
			return inst, true
		}
	}
	return nil, false
}

// Running returns the instances currently alive.
func (r *Registry) Running() []*server.Instance {
	var running []*server.Instance
	for _, inst := range r.All() {
		if inst.IsRunning() {
			running = append(running, inst)
		}
	}
	return running
}
