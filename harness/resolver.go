// Package harness turns test names into image paths, runs them one after
// another on a shared session and reports the outcomes.
package harness

import (
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sarchlab/socsim/driver"
)

// AllTests selects every image in the test directory.
const AllTests = "all"

// Resolver maps short test names to image files in a test directory.
type Resolver struct {
	fs       afero.Fs
	dir      string
	prefixes []string
	logger   log.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger that receives not-found warnings.
func WithResolverLogger(logger log.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver over dir. Prefixes are tried in order.
func NewResolver(fs afero.Fs, dir string, prefixes []string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		fs:       fs,
		dir:      dir,
		prefixes: append([]string(nil), prefixes...),
		logger:   log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Select picks the tests for a command line. No arguments selects
// defaultImage as is; an AllTests argument anywhere selects every image in
// the test directory. Otherwise each argument is resolved by Resolve.
func (r *Resolver) Select(args []string, defaultImage string) ([]driver.Test, []string, error) {
	if len(args) == 0 {
		return []driver.Test{NewTest(defaultImage)}, nil, nil
	}
	for _, a := range args {
		if a == AllTests {
			tests, err := r.Discover()
			return tests, nil, err
		}
	}
	tests, missing := r.Resolve(args)
	return tests, missing, nil
}

// Resolve looks each name up as <dir>/<prefix><name> for every prefix.
// A name containing a path separator is also tried as a path on its own. Names that match nothing are returned in missing and
// logged; they never stop the batch.
func (r *Resolver) Resolve(names []string) (tests []driver.Test, missing []string) {
	for _, name := range names {
		p, ok := r.lookup(name)
		if !ok {
			level.Warn(r.logger).Log("msg", "test binary not found", "test", name)
			missing = append(missing, name)
			continue
		}
		tests = append(tests, NewTest(p))
	}
	return tests, missing
}

func (r *Resolver) lookup(name string) (string, bool) {
	for _, prefix := range r.prefixes {
		p := filepath.Join(r.dir, prefix+name)
		if r.isFile(p) {
			return p, true
		}
	}
	if isPath(name) && r.isFile(name) {
		return name, true
	}
	return "", false
}

// isPath reports whether name names a file rather than a test.
func isPath(name string) bool {
	return strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator)
}

func (r *Resolver) isFile(p string) bool {
	fi, err := r.fs.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// Discover lists the regular files without an extension in the test
// directory, sorted by name.
func (r *Resolver) Discover() ([]driver.Test, error) {
	entries, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list test directory %s", r.dir)
	}

	var tests []driver.Test
	for _, e := range entries {
		if !e.Mode().IsRegular() || filepath.Ext(e.Name()) != "" {
			continue
		}
		tests = append(tests, NewTest(filepath.Join(r.dir, e.Name())))
	}
	sort.Slice(tests, func(i, j int) bool {
		return tests[i].Name < tests[j].Name
	})
	level.Debug(r.logger).Log("msg", "discovered tests", "dir", r.dir, "count", len(tests))
	return tests, nil
}

// NewTest names a test after its image file, without directory or
// extension.
func NewTest(p string) driver.Test {
	base := path.Base(filepath.ToSlash(p))
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" {
		name = base
	}
	return driver.Test{Name: name, Path: p}
}
