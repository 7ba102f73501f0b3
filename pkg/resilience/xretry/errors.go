package xretry

import "errors"

var (
	// ErrNilRetryer 在 nil *Retryer 上调用 Do。
	ErrNilRetryer = errors.New("xretry: nil retryer")

	// ErrNilContext 传入了 nil 上下文。
	ErrNilContext = errors.New("xretry: nil context")

	// ErrNilFunc 传入了 nil 执行函数。
	ErrNilFunc = errors.New("xretry: nil function")
)

// RetryableError 可自行声明是否可重试的错误
type RetryableError interface {
	error
	Retryable() bool
}

// PermanentError 永久性错误，不再重试
type PermanentError struct {
	Err error
}

// NewPermanentError 将 err 标记为永久性错误
func NewPermanentError(err error) *PermanentError {
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

func (e *PermanentError) Retryable() bool { return false }

// IsRetryable 判断错误是否可重试：nil 不需要重试，实现 RetryableError 的错误
// 以其声明为准，其余一律视为可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}
