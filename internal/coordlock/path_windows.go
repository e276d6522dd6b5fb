//go:build windows

package coordlock

func defaultLockPath() string {
	return "C:/temp/flowchat_active.lock"
}
