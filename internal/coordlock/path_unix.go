//go:build !windows

package coordlock

func defaultLockPath() string {
	return "/tmp/flowchat_active.lock"
}
