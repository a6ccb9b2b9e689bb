package internal

// Listen exposes the bus subscription to the external test package.
func (a *App) Listen(stop func()) (func(), error) { return a.listen(stop) }
