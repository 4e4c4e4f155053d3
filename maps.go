package sigtrace

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// loadedModule is one executable mapping of the process image, keyed by
// the backing object path. base is the lowest mapped address of that
// object, the value position-independent code offsets are relative to.
type loadedModule struct {
	path  string
	base  uintptr
	start uintptr
	end   uintptr
}

// moduleTable caches /proc/self/maps. A lookup that misses (dlopen after
// load) replaces the table once via reload before giving up; every
// missing lookup reloads again.
type moduleTable struct {
	mu      sync.Mutex
	modules []loadedModule
	loaded  bool
}

var modules moduleTable

func parseMapsLine(line string) (loadedModule, bool) {
	// address           perms offset  dev   inode   pathname
	// 55f7e9a00000-55f7e9c00000 r-xp 00000000 103:05 2752617 /usr/bin/app
	fields := strings.Fields(line)
	if len(fields) < 6 || !strings.HasPrefix(fields[5], "/") {
		return loadedModule{}, false
	}
	if len(fields[1]) < 3 || fields[1][2] != 'x' {
		return loadedModule{}, false
	}
	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return loadedModule{}, false
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return loadedModule{}, false
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return loadedModule{}, false
	}
	return loadedModule{
		path:  fields[5],
		start: uintptr(start),
		end:   uintptr(end),
	}, true
}

func (t *moduleTable) reload() {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		logger.Warn().Err(err).Msg("could not read module table")
		return
	}
	defer f.Close()

	bases := make(map[string]uintptr)
	var mods []loadedModule

	// The base of an object is its lowest mapping, executable or not.
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) >= 6 && strings.HasPrefix(fields[5], "/") {
			if addr := strings.SplitN(fields[0], "-", 2); len(addr) == 2 {
				if start, err := strconv.ParseUint(addr[0], 16, 64); err == nil {
					if base, ok := bases[fields[5]]; !ok || uintptr(start) < base {
						bases[fields[5]] = uintptr(start)
					}
				}
			}
		}
		if m, ok := parseMapsLine(line); ok {
			mods = append(mods, m)
		}
	}

	for i := range mods {
		mods[i].base = bases[mods[i].path]
	}
	slices.SortFunc(mods, func(a, b loadedModule) bool {
		return a.start < b.start
	})

	t.modules = mods
	t.loaded = true
}

// lookup resolves the executable mapping containing addr, refreshing the
// table once on a miss.
func (t *moduleTable) lookup(addr uintptr) (loadedModule, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.loaded {
		t.reload()
	}
	if m, ok := t.find(addr); ok {
		return m, true
	}
	t.reload()
	return t.find(addr)
}

func (t *moduleTable) find(addr uintptr) (loadedModule, bool) {
	i, _ := slices.BinarySearchFunc(t.modules, addr, func(m loadedModule, a uintptr) int {
		switch {
		case m.end <= a:
			return -1
		case m.start > a:
			return 1
		}
		return 0
	})
	if i < len(t.modules) && t.modules[i].start <= addr && addr < t.modules[i].end {
		return t.modules[i], true
	}
	return loadedModule{}, false
}
