package errors

// Coder is implemented by errors that carry an ErrorCode. HasCode matches any
// Coder in a chain, not only errors built by a Factory.
type Coder interface {
	Code() ErrorCode
}

// Error is a coded error with an optional message, payload and cause.
type Error interface {
	error
	Coder
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds coded errors. Packages call New() once per function and
// use the returned factory for every error they return.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
