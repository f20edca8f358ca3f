//go:build !linux && !darwin

package poller

// New 在不支持的平台返回错误
func New() (Poller, error) { return nil, ErrPlatformNotSupported }

// NewSelect 在不支持的平台返回错误
func NewSelect() (Poller, error) { return nil, ErrPlatformNotSupported }
