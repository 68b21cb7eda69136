// Package update coordinates self-updates of the globally installed kode package.
//
// This package handles:
//   - Cross-process mutual exclusion through a lock marker with staleness recovery
//   - Choosing between npm and bun for global installs
//   - Resolving the latest published version (npm view, then the registry API)
//   - Reinstalling the package and classifying the outcome
//   - Enforcing a remotely configured minimum version
//   - A daily, non-blocking "new version available" hint
//
// The package is isolated from UI concerns. Operations return statuses and
// typed errors that the command layer presents however it wants.
//
// Example usage:
//
//	lock := update.NewMarkerLock(lockPath)
//	in := update.NewInstaller(update.PackageName, version, lock)
//	switch in.Install(ctx) {
//	case update.StatusNoPermissions:
//	    fmt.Println(update.PermissionsCommand(in.PermissionCheck().Prefix))
//	case update.StatusInProgress:
//	    // another kode process is already updating
//	}
package update
