package world

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File schema for blueprint YAML. Kept separate from the domain types so
// the on-disk format can use lowercase direction/visibility strings.

type blueprintFile struct {
	Key     string              `yaml:"key"`
	Title   string              `yaml:"title"`
	Version int                 `yaml:"version"`
	Entry   string              `yaml:"entry"`
	Rooms   map[string]roomFile `yaml:"rooms"`
}

type roomFile struct {
	Title    string            `yaml:"title"`
	Short    string            `yaml:"short"`
	Body     string            `yaml:"body"`
	Exits    []exitFile        `yaml:"exits"`
	Objects  []objectFile      `yaml:"objects"`
	Counters map[string]int    `yaml:"counters"`
	KV       map[string]string `yaml:"kv"`
	Hints    []hintFile        `yaml:"hints"`
	Scripts  scriptsFile       `yaml:"scripts"`
}

type exitFile struct {
	Dir               string `yaml:"dir"`
	To                string `yaml:"to"`
	Locked            bool   `yaml:"locked"`
	VisibleWhenLocked bool   `yaml:"visible_when_locked"`
	Description       string `yaml:"description"`
}

type objectFile struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Short       string   `yaml:"short"`
	Description string   `yaml:"description"`
	Examine     string   `yaml:"examine"`
	Nouns       []string `yaml:"nouns"`
	Visibility  string   `yaml:"visibility"`
	Takeable    bool     `yaml:"takeable"`
	Counter     string   `yaml:"counter"`
	Script      string   `yaml:"script"`
}

type scriptsFile struct {
	OnEnter   string `yaml:"on_enter"`
	OnLeave   string `yaml:"on_leave"`
	OnCommand string `yaml:"on_command"`
}

type hintFile struct {
	ID       string `yaml:"id"`
	Text     string `yaml:"text"`
	When     string `yaml:"when"`
	Once     bool   `yaml:"once"`
	Cooldown int    `yaml:"cooldown"`
}

// LoadBlueprint parses one blueprint YAML file and validates its room graph.
func LoadBlueprint(path string) (*Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	bp, err := ParseBlueprint(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return bp, nil
}

// ParseBlueprint parses blueprint YAML from memory.
func ParseBlueprint(data []byte) (*Blueprint, error) {
	var bf blueprintFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if bf.Key == "" {
		return nil, fmt.Errorf("blueprint key missing")
	}

	bp := &Blueprint{
		Key:     bf.Key,
		Title:   bf.Title,
		Version: bf.Version,
		Entry:   bf.Entry,
		Rooms:   make(map[string]*Room, len(bf.Rooms)),
	}
	for key, rf := range bf.Rooms {
		room := &Room{
			Key:      key,
			Title:    rf.Title,
			Short:    rf.Short,
			Body:     rf.Body,
			Counters: rf.Counters,
			KV:       rf.KV,
			Scripts: Scripts{
				OnEnter:   rf.Scripts.OnEnter,
				OnLeave:   rf.Scripts.OnLeave,
				OnCommand: rf.Scripts.OnCommand,
			},
		}
		for _, ef := range rf.Exits {
			dir, ok := ParseDirection(ef.Dir)
			if !ok {
				return nil, fmt.Errorf("room %q: bad exit direction %q", key, ef.Dir)
			}
			room.Exits = append(room.Exits, &Exit{
				Dir:               dir,
				To:                ef.To,
				Locked:            ef.Locked,
				VisibleWhenLocked: ef.VisibleWhenLocked,
				Description:       ef.Description,
			})
		}
		for _, of := range rf.Objects {
			if of.Key == "" {
				return nil, fmt.Errorf("room %q: object with empty key", key)
			}
			room.Objects = append(room.Objects, &Object{
				Key:         of.Key,
				Name:        of.Name,
				Short:       of.Short,
				Description: of.Description,
				Examine:     of.Examine,
				Nouns:       of.Nouns,
				Visibility:  ParseVisibility(of.Visibility),
				Takeable:    of.Takeable,
				Counter:     of.Counter,
				Script:      of.Script,
			})
		}
		for _, hf := range rf.Hints {
			room.Hints = append(room.Hints, Hint{
				ID: hf.ID, Text: hf.Text, When: hf.When,
				Once: hf.Once, Cooldown: hf.Cooldown,
			})
		}
		bp.Rooms[key] = room
	}

	if err := bp.Validate(); err != nil {
		return nil, err
	}
	return bp, nil
}

// Validate checks the room graph: the entry room exists, every exit points
// at a defined room, and object keys are unique within a room.
func (bp *Blueprint) Validate() error {
	if bp.Entry == "" {
		return fmt.Errorf("blueprint %q: entry room not set", bp.Key)
	}
	if _, ok := bp.Rooms[bp.Entry]; !ok {
		return fmt.Errorf("blueprint %q: entry room %q not defined", bp.Key, bp.Entry)
	}
	for key, room := range bp.Rooms {
		for _, e := range room.Exits {
			if _, ok := bp.Rooms[e.To]; !ok {
				return fmt.Errorf("blueprint %q: room %q exit %s points at undefined room %q",
					bp.Key, key, e.Dir, e.To)
			}
		}
		seen := make(map[string]bool, len(room.Objects))
		for _, o := range room.Objects {
			if seen[o.Key] {
				return fmt.Errorf("blueprint %q: room %q has duplicate object %q", bp.Key, key, o.Key)
			}
			seen[o.Key] = true
		}
	}
	return nil
}

// Library holds every loaded blueprint, keyed by blueprint key. Reload is
// copy-on-write: readers always see a complete blueprint, never a partial
// parse.
type Library struct {
	mu         sync.RWMutex
	blueprints map[string]*Blueprint
	dir        string
	onReload   func(*Blueprint)
}

// NewLibrary loads every *.yaml / *.yml blueprint under dir.
func NewLibrary(dir string) (*Library, error) {
	lib := &Library{
		blueprints: make(map[string]*Blueprint),
		dir:        dir,
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading blueprint dir: %w", err)
	}
	for _, ent := range entries {
		if ent.IsDir() || !isBlueprintFile(ent.Name()) {
			continue
		}
		bp, err := LoadBlueprint(filepath.Join(dir, ent.Name()))
		if err != nil {
			return nil, err
		}
		lib.blueprints[bp.Key] = bp
	}
	return lib, nil
}

// NewStaticLibrary wraps pre-built blueprints, mainly for tests.
func NewStaticLibrary(bps ...*Blueprint) *Library {
	lib := &Library{blueprints: make(map[string]*Blueprint, len(bps))}
	for _, bp := range bps {
		lib.blueprints[bp.Key] = bp
	}
	return lib
}

// Get returns the blueprint with the given key, or nil.
func (l *Library) Get(key string) *Blueprint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blueprints[key]
}

// Keys lists loaded blueprint keys, sorted.
func (l *Library) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.blueprints))
	for k := range l.blueprints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Put installs or replaces a blueprint.
func (l *Library) Put(bp *Blueprint) {
	l.mu.Lock()
	l.blueprints[bp.Key] = bp
	l.mu.Unlock()
}

// OnReload registers a callback invoked after a watched file reloads.
func (l *Library) OnReload(fn func(*Blueprint)) {
	l.mu.Lock()
	l.onReload = fn
	l.mu.Unlock()
}

// Watch starts an fsnotify watcher on the blueprint directory. Changed
// files are reparsed; a parse failure keeps the previous blueprint live.
func (l *Library) Watch() error {
	if l.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("blueprint watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("blueprint watcher: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if !isBlueprintFile(filepath.Base(event.Name)) {
					continue
				}
				bp, err := LoadBlueprint(event.Name)
				if err != nil {
					log.Printf("blueprint reload %s failed: %v", event.Name, err)
					continue
				}
				l.Put(bp)
				log.Printf("blueprint %s reloaded (version %d)", bp.Key, bp.Version)
				l.mu.RLock()
				fn := l.onReload
				l.mu.RUnlock()
				if fn != nil {
					fn(bp)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("blueprint watcher error: %v", err)
			}
		}
	}()
	return nil
}

func isBlueprintFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
