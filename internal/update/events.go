package update

// Event names recorded by the coordinator.
const (
	EventLockContention       = "auto_updater_lock_contention"
	EventPrefixLockContention = "auto_updater_prefix_lock_contention"
	EventInstallResult        = "auto_updater_install_result"
	EventPrefixPathUpdated    = "npm_prefix_path_updated"
	EventPrefixPathFailed     = "npm_prefix_path_update_failed"
)

// EventRecorder receives usage events. Implementations must not block for long
// and must swallow their own failures.
type EventRecorder interface {
	Record(name string, attrs map[string]string)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, map[string]string) {}
