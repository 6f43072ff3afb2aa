// Package sync implements the peer synchronization engine: given a source's
// peer map and its last-known branch state it decides which branches to push
// to which peers, serializes pushes per peer, resolves divergent-history
// conflicts and maintains the cached branch-hash state.
package sync

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// PeerBranch keys the cached hash of one branch on one peer.
type PeerBranch struct {
	Peer   string
	Branch string
}

// Source is the mutable record for one synchronized repository: its peer map,
// its cached branch->hash table and its live per-peer workers. All map access
// goes through the source mutex; the peer map itself is read-only after
// construction except for explicit AddPeer/RemovePeer calls.
type Source struct {
	Name      string
	LocalPath string

	mu           sync.Mutex
	hostPaths    map[string]string
	branchHashes map[PeerBranch]string
	workers      map[string]*PeerWorker
}

// NewSource creates a source with one worker per configured peer.
func NewSource(name, localPath string, hostPaths map[string]string) *Source {
	s := &Source{
		Name:         name,
		LocalPath:    localPath,
		hostPaths:    make(map[string]string, len(hostPaths)),
		branchHashes: make(map[PeerBranch]string),
		workers:      make(map[string]*PeerWorker, len(hostPaths)),
	}
	for host, path := range hostPaths {
		s.hostPaths[host] = path
		s.workers[host] = NewPeerWorker(name, host)
	}
	return s
}

// HasPeer reports whether host is configured for this source. It touches
// nothing but the peer path map.
func (s *Source) HasPeer(host string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hostPaths[host]
	return ok
}

// PeerPath returns the repository path of this source on the given host.
func (s *Source) PeerPath(host string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.hostPaths[host]
	return path, ok
}

// Hosts returns the configured peer hosts in stable order.
func (s *Source) Hosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	hosts := make([]string, 0, len(s.hostPaths))
	for host := range s.hostPaths {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

func (s *Source) worker(host string) *PeerWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workers[host]
}

// CachedHash returns the last hash confirmed pushed to the peer for the
// branch; "" means never confirmed.
func (s *Source) CachedHash(peer, branch string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.branchHashes[PeerBranch{Peer: peer, Branch: branch}]
}

// SetCachedHash records a confirmed successful push. Callers must only
// invoke this after the push completed.
func (s *Source) SetCachedHash(peer, branch, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branchHashes[PeerBranch{Peer: peer, Branch: branch}] = hash
}

// SeedCache loads previously confirmed hashes, typically from the push
// journal at startup. Existing entries win: the journal is not ground truth.
func (s *Source) SeedCache(state map[PeerBranch]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, hash := range state {
		if _, ok := s.branchHashes[key]; !ok {
			s.branchHashes[key] = hash
		}
	}
}

// CacheSnapshot returns a copy of the cached hashes, peer -> branch -> hash.
func (s *Source) CacheSnapshot() map[string]map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(map[string]map[string]string)
	for key, hash := range s.branchHashes {
		if snap[key.Peer] == nil {
			snap[key.Peer] = make(map[string]string)
		}
		snap[key.Peer][key.Branch] = hash
	}
	return snap
}

// QueueDepths returns the number of queued tasks per peer.
func (s *Source) QueueDepths() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	depths := make(map[string]int, len(s.workers))
	for host, w := range s.workers {
		depths[host] = w.Depth()
	}
	return depths
}

// AddPeer configures a new peer and starts its worker.
func (s *Source) AddPeer(host, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hostPaths[host]; ok {
		s.hostPaths[host] = path
		return
	}
	s.hostPaths[host] = path
	s.workers[host] = NewPeerWorker(s.Name, host)
}

// RemovePeer drops a peer from the source. Its worker drains and accepts no
// further tasks; cached hashes for the peer are forgotten.
func (s *Source) RemovePeer(host string) {
	s.mu.Lock()
	w := s.workers[host]
	delete(s.workers, host)
	delete(s.hostPaths, host)
	for key := range s.branchHashes {
		if key.Peer == host {
			delete(s.branchHashes, key)
		}
	}
	s.mu.Unlock()

	if w != nil {
		w.Stop()
	}
}

// Wait blocks until every peer queue has drained.
func (s *Source) Wait() {
	for _, w := range s.allWorkers() {
		w.Wait()
	}
}

// Stop drains and stops all peer workers.
func (s *Source) Stop() {
	for _, w := range s.allWorkers() {
		w.Stop()
	}
	slog.Debug("source stopped", "source", s.Name)
}

func (s *Source) allWorkers() []*PeerWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	workers := make([]*PeerWorker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	return workers
}

// Registry is the process-wide lookup of sources by name. It is created at
// startup and passed explicitly to every component that needs it.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]*Source)}
}

func (r *Registry) Add(s *Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[s.Name]; ok {
		return fmt.Errorf("source %q already registered", s.Name)
	}
	r.sources[s.Name] = s
	return nil
}

func (r *Registry) Get(name string) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	return s, ok
}

// All returns the registered sources sorted by name.
func (r *Registry) All() []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Stop stops every registered source's workers.
func (r *Registry) Stop() {
	for _, s := range r.All() {
		s.Stop()
	}
}
