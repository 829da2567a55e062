package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
)

// secretRef is a parsed secret://name?version=N&project=ID reference. The
// canonical form strips query and fragment so pins and cache entries match
// regardless of how the reference was spelled.
type secretRef struct {
	name      string
	canonical string
	version   string
	project   string
}

func parseReference(raw string) (secretRef, error) {
	if strings.TrimSpace(raw) == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	query := u.Query()
	return secretRef{
		name:      name,
		canonical: canonical.String(),
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// fallbackFile is a lazily loaded KEY=VALUE file of local secret values.
// Keys are secret:// references; lines starting with # are ignored.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(ref secretRef, version string) (string, bool) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", false
	}
	if value, ok := f.values[cacheKey(ref.canonical, version)]; ok {
		return value, true
	}
	value, ok := f.values[ref.canonical]
	return value, ok
}

func (f *fallbackFile) loadErr() error {
	f.once.Do(f.load)
	return f.err
}

func (f *fallbackFile) load() {
	f.values = make(map[string]string)

	path := strings.TrimSpace(f.path)
	if path == "" {
		return
	}

	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.err = fmt.Errorf("secrets: unable to open fallback file %s: %w", path, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}

		ref, err := parseReference(key)
		if err != nil {
			f.values[key] = value
			continue
		}
		version := ref.version
		if version == "" {
			version = "latest"
		}
		f.values[ref.canonical] = value
		f.values[cacheKey(ref.canonical, version)] = value
	}
	if err := scanner.Err(); err != nil {
		f.err = fmt.Errorf("secrets: failed reading %s: %w", path, err)
	}
}
