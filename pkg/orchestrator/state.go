package orchestrator

import (
	"sync"

	"github.com/mikeboe/report-engine/pkg/types"
)

// State is the research state shared across one orchestration run's
// concurrent tasks. All writes are additive: context merges by set union on
// content equality, visited URLs are only ever added, headers only appended.
type State struct {
	mu          sync.Mutex
	context     []string
	contextSeen map[string]bool
	visited     map[string]bool
	images      []string
	imagesSeen  map[string]bool
	headers     []types.SubtopicHeaders
}

func NewState() *State {
	return &State{
		contextSeen: make(map[string]bool),
		visited:     make(map[string]bool),
		imagesSeen:  make(map[string]bool),
	}
}

// AddContext appends blocks not already present. Equality is exact content
// equality; paraphrased near-duplicates are not caught.
func (s *State) AddContext(blocks ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range blocks {
		if b == "" || s.contextSeen[b] {
			continue
		}
		s.contextSeen[b] = true
		s.context = append(s.context, b)
	}
}

func (s *State) Context() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.context))
	copy(out, s.context)
	return out
}

// MarkVisited marks urls as visited and returns the subset that was not
// visited before this call. Marking happens at dispatch time so concurrent
// tasks cannot double-fetch a URL that is still in flight.
func (s *State) MarkVisited(urls []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fresh []string
	for _, u := range urls {
		if u == "" || s.visited[u] {
			continue
		}
		s.visited[u] = true
		fresh = append(fresh, u)
	}
	return fresh
}

func (s *State) VisitedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.visited))
	for u := range s.visited {
		out = append(out, u)
	}
	return out
}

// AllowedURLs returns the visited set in the form the writer's citation
// allow-list expects.
func (s *State) AllowedURLs() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.visited))
	for u := range s.visited {
		out[u] = true
	}
	return out
}

func (s *State) AddImages(urls ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range urls {
		if u == "" || s.imagesSeen[u] {
			continue
		}
		s.imagesSeen[u] = true
		s.images = append(s.images, u)
	}
}

func (s *State) Images() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.images))
	copy(out, s.images)
	return out
}

func (s *State) AddHeaders(h types.SubtopicHeaders) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers = append(s.headers, h)
}

func (s *State) Headers() []types.SubtopicHeaders {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.SubtopicHeaders, len(s.headers))
	copy(out, s.headers)
	return out
}
