package internal

import (
	"fmt"
	"slices"
)

// Module is a plugin that installs routes, middleware and jobs. Routes
// registered during Install belong to the module and go away on Uninstall.
type Module interface {
	Name() string
	Install(a *App) error
}

// Uninstaller is implemented by modules that release resources on Uninstall.
type Uninstaller interface {
	Uninstall(a *App) error
}

// Install installs m, replacing an installed module of the same name.
func (a *App) Install(m Module) error {
	name := m.Name()
	a.installMu.Lock()
	defer a.installMu.Unlock()

	if _, ok := a.module(name); ok {
		if err := a.uninstallLocked(name); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.installing = name
	a.mu.Unlock()

	err := m.Install(a)

	a.mu.Lock()
	a.installing = ""
	if err == nil {
		a.modules[name] = m
	}
	a.mu.Unlock()

	if err != nil {
		a.removeOwned(name)
		return fmt.Errorf("trellis: install module %s: %w", name, err)
	}
	a.logger.Info("module installed", "module", name)
	return nil
}

// Uninstall removes the module and every route it registered.
func (a *App) Uninstall(name string) error {
	a.installMu.Lock()
	defer a.installMu.Unlock()
	return a.uninstallLocked(name)
}

func (a *App) uninstallLocked(name string) error {
	m, ok := a.module(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}

	var err error
	if u, ok := m.(Uninstaller); ok {
		err = u.Uninstall(a)
	}
	a.removeOwned(name)

	a.mu.Lock()
	delete(a.modules, name)
	a.mu.Unlock()
	a.logger.Info("module uninstalled", "module", name)
	return err
}

// Modules returns the installed module names.
func (a *App) Modules() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.modules))
	for n := range a.modules {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (a *App) module(name string) (Module, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.modules[name]
	return m, ok
}

// owner returns the module currently installing, for route ownership.
func (a *App) owner() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.installing
}

func (a *App) removeOwned(name string) {
	owned := slices.DeleteFunc(a.routes.Routes(), func(r *Route) bool { return r.Owner != name })
	a.mu.Lock()
	for _, r := range owned {
		delete(a.preflights, corsKey(r))
		delete(a.corsPolicies, corsKey(r))
	}
	a.mu.Unlock()

	a.routes.Remove(name)
	a.sockets.Remove(name)

	a.mu.Lock()
	a.fileRoutes = slices.DeleteFunc(a.fileRoutes, func(fr *fileRoute) bool { return fr.route.Owner == name })
	var gone []*endpoint
	for r, ep := range a.endpoints {
		if r.Owner == name {
			gone = append(gone, ep)
			delete(a.endpoints, r)
		}
	}
	a.mu.Unlock()

	for _, ep := range gone {
		ep.mu.Lock()
		if ep.container != nil {
			ep.container.Destroy()
		}
		ep.mu.Unlock()
	}
}
