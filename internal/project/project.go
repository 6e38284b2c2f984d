// Package project manages the registry of firmware projects under the
// projects root. A project is any direct subdirectory carrying a
// CMakeLists.txt; a small marker file inside the directory records state
// that must survive restarts, such as the configured chip target.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// MarkerFile holds per-project state inside the project directory.
const MarkerFile = ".fwforge.yaml"

// ErrNotFound is returned when no project has the requested ID.
var ErrNotFound = errors.New("project not found")

// Project is one registered firmware project.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Dir       string    `json:"dir"`
	Target    string    `json:"target,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type marker struct {
	Name      string    `yaml:"name,omitempty"`
	Target    string    `yaml:"target,omitempty"`
	CreatedAt time.Time `yaml:"created_at,omitempty"`
}

// Store is the in-memory registry over the projects root. All methods are
// safe for concurrent use; returned projects are copies.
type Store struct {
	mu       sync.RWMutex
	root     string
	projects map[string]*Project
}

// NewStore creates the projects root if needed and scans it.
func NewStore(root string) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve projects root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("create projects root: %w", err)
	}

	s := &Store{root: absRoot, projects: map[string]*Project{}}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the absolute projects root directory.
func (s *Store) Root() string {
	return s.root
}

// Refresh rescans the projects root. Projects whose directories vanished are
// dropped; new directories with a CMakeLists.txt are picked up.
func (s *Store) Refresh() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read projects root: %w", err)
	}

	found := map[string]*Project{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "CMakeLists.txt")); err != nil {
			continue
		}
		p := s.loadProject(dir, entry.Name())
		found[p.ID] = p
	}

	s.mu.Lock()
	s.projects = found
	s.mu.Unlock()
	return nil
}

func (s *Store) loadProject(dir, dirName string) *Project {
	p := &Project{
		Name: dirName,
		Dir:  dir,
	}

	if data, err := os.ReadFile(filepath.Join(dir, MarkerFile)); err == nil {
		var m marker
		if err := yaml.Unmarshal(data, &m); err == nil {
			if m.Name != "" {
				p.Name = m.Name
			}
			p.Target = m.Target
			p.CreatedAt = m.CreatedAt
		}
	}
	if p.CreatedAt.IsZero() {
		if info, err := os.Stat(dir); err == nil {
			p.CreatedAt = info.ModTime()
		}
	}

	p.ID = Slug(p.Name)
	return p
}

// List returns all projects sorted by ID.
func (s *Store) List() []*Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		clone := *p
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a copy of the project.
func (s *Store) Get(id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *p
	return &clone, nil
}

// Register creates a new project skeleton under the root and returns it.
func (s *Store) Register(name string) (*Project, error) {
	id := Slug(name)
	if id == "" {
		return nil, fmt.Errorf("project name %q produces an empty identifier", name)
	}

	s.mu.RLock()
	_, exists := s.projects[id]
	s.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("project %q already exists", id)
	}

	dir := filepath.Join(s.root, id)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("directory %s already exists", dir)
	}

	if err := writeSkeleton(dir, name); err != nil {
		return nil, err
	}
	if err := writeMarker(dir, marker{Name: name, CreatedAt: time.Now()}); err != nil {
		return nil, err
	}

	p := s.loadProject(dir, id)
	s.mu.Lock()
	s.projects[p.ID] = p
	s.mu.Unlock()

	clone := *p
	return &clone, nil
}

// SetTarget records the configured chip target for the project, both in
// memory and in the marker file.
func (s *Store) SetTarget(id, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.Target = target
	return writeMarker(p.Dir, marker{Name: p.Name, Target: target, CreatedAt: p.CreatedAt})
}

// Target returns the project's recorded chip target; empty when unset.
func (s *Store) Target(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return "", ErrNotFound
	}
	return p.Target, nil
}

func writeMarker(dir string, m marker) error {
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal project marker: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MarkerFile), data, 0644); err != nil {
		return fmt.Errorf("write project marker: %w", err)
	}
	return nil
}

// writeSkeleton lays down the minimal buildable project structure.
func writeSkeleton(dir, name string) error {
	if err := os.MkdirAll(filepath.Join(dir, "main"), 0755); err != nil {
		return fmt.Errorf("create project directory: %w", err)
	}

	rootCMake := fmt.Sprintf(`cmake_minimum_required(VERSION 3.16)

include($ENV{IDF_PATH}/tools/cmake/project.cmake)
project(%s)
`, Slug(name))
	if err := os.WriteFile(filepath.Join(dir, "CMakeLists.txt"), []byte(rootCMake), 0644); err != nil {
		return fmt.Errorf("write CMakeLists.txt: %w", err)
	}

	mainCMake := `idf_component_register(SRCS "main.c" INCLUDE_DIRS "")
`
	if err := os.WriteFile(filepath.Join(dir, "main", "CMakeLists.txt"), []byte(mainCMake), 0644); err != nil {
		return fmt.Errorf("write main/CMakeLists.txt: %w", err)
	}

	mainSrc := `#include <stdio.h>

void app_main(void)
{
    printf("Hello from ` + name + `\n");
}
`
	if err := os.WriteFile(filepath.Join(dir, "main", "main.c"), []byte(mainSrc), 0644); err != nil {
		return fmt.Errorf("write main/main.c: %w", err)
	}

	return nil
}
