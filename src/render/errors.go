package render

import (
	"github.com/palantir/stacktrace"
	"github.com/vulkan-go/vulkan"
)

// NewError converts a non-success result into an error carrying the
// call site. Returns nil for vulkan.Success.
func NewError(ret vulkan.Result) error {
	if ret != vulkan.Success {
		return stacktrace.NewError("vulkan error: %v (%d)", vulkan.Error(ret), int32(ret))
	}
	return nil
}

func IsError(ret vulkan.Result) bool {
	return ret != vulkan.Success
}

// OrPanic runs the finalizers and panics when err is non-nil. For
// setup paths with no caller to hand the error to.
func OrPanic(err error, finalizers ...func()) {
	if err == nil {
		return
	}
	for _, fn := range finalizers {
		fn()
	}
	panic(err)
}

// CheckError recovers a panic into *err. Use with defer.
func CheckError(err *error) {
	if v := recover(); v != nil {
		*err = stacktrace.NewError("%+v", v)
	}
}
