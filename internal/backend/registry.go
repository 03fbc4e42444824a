package backend

import (
	"fmt"
	"slices"
	"sync"

	"golang.org/x/mod/semver"
	"k8s.io/klog/v2"

	"github.com/neuropod-go/neuropod/internal/manifest"
)

// Registration describes an engine.
type Registration struct {
	Name      string      // Unique backend identifier.
	Platforms []string    // Manifest platforms the engine can run.
	Version   string      // Engine version, a semantic version such as "v1.2.0".
	New       Constructor // Loads a package.
}

var (
	registryMu    sync.RWMutex
	registrations = make(map[string]Registration)
	registryOrder []string
)

// Register adds an engine. It panics if the name is empty, already registered, or
// the registration has no constructor or an invalid version.
func Register(r Registration) {
	if r.Name == "" || r.New == nil {
		panic("backend: Register requires a name and a constructor")
	}
	if r.Version != "" && !semver.IsValid(r.Version) {
		panic(fmt.Sprintf("backend: %s has invalid version %q", r.Name, r.Version))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registrations[r.Name]; dup {
		panic(fmt.Sprintf("backend: %s already registered", r.Name))
	}
	r.Platforms = slices.Clone(r.Platforms)
	registrations[r.Name] = r
	registryOrder = append(registryOrder, r.Name)
}

// Lookup returns the engine registered under name, or ErrUnknownBackend.
func Lookup(name string) (Registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registrations[name]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, name, registryOrder)
	}
	return r, nil
}

// ForPlatform returns the first registered engine supporting platform, or ErrUnknownBackend.
func ForPlatform(platform string) (Registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, name := range registryOrder {
		if r := registrations[name]; slices.Contains(r.Platforms, platform) {
			return r, nil
		}
	}
	return Registration{}, fmt.Errorf("%w: no backend for platform %q", ErrUnknownBackend, platform)
}

// Names returns the registered engine names in registration order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Clone(registryOrder)
}

// Registrations returns every registered engine in registration order.
func Registrations() []Registration {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Registration, 0, len(registryOrder))
	for _, name := range registryOrder {
		out = append(out, registrations[name])
	}
	return out
}

// Resolve picks the engine for pkg: the one registered as name if given, otherwise
// the first one supporting the package platform. It checks the manifest's
// platform_version against the engine version.
func Resolve(pkg *manifest.Package, name string) (Registration, error) {
	var (
		r   Registration
		err error
	)
	if name != "" {
		r, err = Lookup(name)
	} else {
		r, err = ForPlatform(pkg.Manifest.Platform)
	}
	if err != nil {
		return Registration{}, err
	}
	if err := CheckVersion(r, pkg.Manifest.PlatformVersion); err != nil {
		return Registration{}, manifest.NewLoadError(pkg.Source(), err)
	}
	return r, nil
}

// CheckVersion fails if the engine is older than the required minimum version.
// An empty requirement always passes.
func CheckVersion(r Registration, required string) error {
	if required == "" {
		return nil
	}
	if !semver.IsValid(required) {
		return fmt.Errorf("invalid platform_version %q", required)
	}
	if r.Version == "" || semver.Compare(r.Version, required) < 0 {
		return fmt.Errorf("backend %s version %q does not satisfy platform_version %s", r.Name, r.Version, required)
	}
	return nil
}

// New resolves and constructs the backend for an opened package.
// Constructor failures are returned as manifest load errors.
func New(pkg *manifest.Package, name string, opts Options) (Backend, error) {
	r, err := Resolve(pkg, name)
	if err != nil {
		return nil, err
	}
	klog.V(1).InfoS("Loading model", "backend", r.Name, "path", pkg.Source(), "platform", pkg.Manifest.Platform)
	b, err := r.New(pkg, opts)
	if err != nil {
		return nil, manifest.NewLoadError(pkg.Source(), err)
	}
	return b, nil
}
