package debutils

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/omnivector-solutions/charm-apptainer/internal/utils/logger"
)

// DefaultSourcesDir is where apt picks up one-line sources entries.
const DefaultSourcesDir = "/etc/apt/sources.list.d"

// DebianRepository is one line of an apt sources list.
type DebianRepository struct {
	Enabled  bool
	RepoType string            // "deb" or "deb-src"
	URI      string            // e.g. "https://ppa.launchpadcontent.net/apptainer/ppa/ubuntu"
	Release  string            // suite or codename, e.g. "jammy"
	Groups   []string          // components, e.g. ["main"]
	Options  map[string]string // e.g. {"signed-by": "/usr/share/keyrings/apptainer.asc"}
	Filename string            // base name of the .list file holding this entry
}

// NewDebianRepository returns an enabled "deb" repository whose Filename is
// derived from uri and release.
func NewDebianRepository(uri, release string, groups []string, options map[string]string) *DebianRepository {
	return &DebianRepository{
		Enabled:  true,
		RepoType: "deb",
		URI:      uri,
		Release:  release,
		Groups:   groups,
		Options:  options,
		Filename: FilenameFor(uri, release),
	}
}

// FilenameFor derives a sources.list.d file name from the repository host,
// path and release, e.g. "ppa.launchpadcontent.net-apptainer-ppa-ubuntu-jammy.list".
func FilenameFor(uri, release string) string {
	prefix := uri
	if u, err := url.Parse(uri); err == nil && u.Host != "" {
		prefix = u.Host
		if path := strings.Trim(u.Path, "/"); path != "" {
			prefix += "-" + strings.ReplaceAll(path, "/", "-")
		}
	}
	return fmt.Sprintf("%s-%s.list", prefix, strings.ReplaceAll(release, "/", "-"))
}

// ParseRepoLine parses a one-line sources entry. A leading "#" marks the
// entry as disabled.
func ParseRepoLine(line string) (*DebianRepository, error) {
	repo := &DebianRepository{Enabled: true, Options: map[string]string{}}

	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "#") {
		repo.Enabled = false
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))
	}

	fields := strings.Fields(line)
	if len(fields) == 0 || (fields[0] != "deb" && fields[0] != "deb-src") {
		return nil, fmt.Errorf("invalid repository line %q: must start with deb or deb-src", line)
	}
	repo.RepoType = fields[0]
	fields = fields[1:]

	if len(fields) > 0 && strings.HasPrefix(fields[0], "[") {
		var opts []string
		for len(fields) > 0 {
			f := fields[0]
			fields = fields[1:]
			opts = append(opts, f)
			if strings.HasSuffix(f, "]") {
				break
			}
		}
		joined := strings.TrimSuffix(strings.TrimPrefix(strings.Join(opts, " "), "["), "]")
		if !strings.HasSuffix(opts[len(opts)-1], "]") {
			return nil, fmt.Errorf("invalid repository line %q: unterminated options", line)
		}
		for _, opt := range strings.Fields(joined) {
			kv := strings.SplitN(opt, "=", 2)
			if len(kv) != 2 {
				return nil, fmt.Errorf("invalid repository option %q", opt)
			}
			repo.Options[kv[0]] = kv[1]
		}
	}

	if len(fields) < 2 {
		return nil, fmt.Errorf("invalid repository line %q: missing uri or release", line)
	}
	repo.URI = fields[0]
	repo.Release = fields[1]
	repo.Groups = append([]string(nil), fields[2:]...)
	repo.Filename = FilenameFor(repo.URI, repo.Release)
	return repo, nil
}

// Line renders the repository as a sources entry.
func (r *DebianRepository) Line() string {
	var sb strings.Builder
	if !r.Enabled {
		sb.WriteString("# ")
	}
	sb.WriteString(r.RepoType)
	if len(r.Options) > 0 {
		keys := make([]string, 0, len(r.Options))
		for k := range r.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		opts := make([]string, 0, len(keys))
		for _, k := range keys {
			opts = append(opts, k+"="+r.Options[k])
		}
		sb.WriteString(" [" + strings.Join(opts, " ") + "]")
	}
	sb.WriteString(" " + r.URI + " " + r.Release)
	if len(r.Groups) > 0 {
		sb.WriteString(" " + strings.Join(r.Groups, " "))
	}
	return sb.String()
}

// ID identifies a repository independently of its enabled flag and options.
func (r *DebianRepository) ID() string {
	return fmt.Sprintf("%s-%s-%s", r.RepoType, r.URI, r.Release)
}

func (r *DebianRepository) sameSource(o *DebianRepository) bool {
	if r.ID() != o.ID() || len(r.Groups) != len(o.Groups) {
		return false
	}
	for i := range r.Groups {
		if r.Groups[i] != o.Groups[i] {
			return false
		}
	}
	return true
}

// RepositoryMapping is the set of one-line entries under a sources directory.
type RepositoryMapping struct {
	dir   string
	repos map[string]*DebianRepository
}

// NewRepositoryMapping returns an empty mapping rooted at dir.
func NewRepositoryMapping(dir string) *RepositoryMapping {
	if dir == "" {
		dir = DefaultSourcesDir
	}
	return &RepositoryMapping{dir: dir, repos: map[string]*DebianRepository{}}
}

// Load reads every *.list file in the sources directory. Lines that are not
// deb/deb-src entries are skipped. When the same source appears both enabled
// and disabled, the enabled entry wins.
func (m *RepositoryMapping) Load() error {
	log := logger.Logger()
	m.repos = map[string]*DebianRepository{}

	files, err := filepath.Glob(filepath.Join(m.dir, "*.list"))
	if err != nil {
		return fmt.Errorf("listing %s: %w", m.dir, err)
	}
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			repo, err := ParseRepoLine(line)
			if err != nil {
				if !strings.HasPrefix(line, "#") {
					log.Debugf("Skipping sources entry in %s: %v", path, err)
				}
				continue
			}
			repo.Filename = filepath.Base(path)
			if prev, ok := m.repos[repo.ID()]; ok && prev.Enabled && !repo.Enabled {
				continue
			}
			m.repos[repo.ID()] = repo
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return nil
}

// Repositories returns the loaded repositories sorted by ID.
func (m *RepositoryMapping) Repositories() []*DebianRepository {
	out := make([]*DebianRepository, 0, len(m.repos))
	for _, r := range m.repos {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Add writes repo, enabled, to its own file in the sources directory,
// replacing whatever that file held.
func (m *RepositoryMapping) Add(repo *DebianRepository) error {
	log := logger.Logger()
	repo.Enabled = true
	if repo.Filename == "" {
		repo.Filename = FilenameFor(repo.URI, repo.Release)
	}

	path := filepath.Join(m.dir, repo.Filename)
	if err := writeFileAtomic(path, []byte(repo.Line()+"\n"), 0644); err != nil {
		return fmt.Errorf("adding repository %s: %w", repo.URI, err)
	}
	m.repos[repo.ID()] = repo
	log.Infof("Added repository %q to %s", repo.Line(), path)
	return nil
}

// Disable comments out every entry of repo in its file. A missing file
// already counts as disabled.
func (m *RepositoryMapping) Disable(repo *DebianRepository) error {
	log := logger.Logger()
	if repo.Filename == "" {
		repo.Filename = FilenameFor(repo.URI, repo.Release)
	}
	path := filepath.Join(m.dir, repo.Filename)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Debugf("Repository file %s does not exist, nothing to disable", path)
		repo.Enabled = false
		return nil
	}
	if err != nil {
		return fmt.Errorf("disabling repository %s: %w", repo.URI, err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	for i, line := range lines {
		existing, err := ParseRepoLine(line)
		if err != nil || !existing.Enabled || !existing.sameSource(repo) {
			continue
		}
		existing.Enabled = false
		lines[i] = existing.Line()
	}

	if err := writeFileAtomic(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return fmt.Errorf("disabling repository %s: %w", repo.URI, err)
	}
	repo.Enabled = false
	if loaded, ok := m.repos[repo.ID()]; ok {
		loaded.Enabled = false
	}
	log.Infof("Disabled repository %s %s in %s", repo.URI, repo.Release, path)
	return nil
}

// Remove deletes the file holding repo. A missing file is not an error.
func (m *RepositoryMapping) Remove(repo *DebianRepository) error {
	if repo.Filename == "" {
		repo.Filename = FilenameFor(repo.URI, repo.Release)
	}
	path := filepath.Join(m.dir, repo.Filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing repository %s: %w", repo.URI, err)
	}
	delete(m.repos, repo.ID())
	logger.Logger().Infof("Removed repository file %s", path)
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
