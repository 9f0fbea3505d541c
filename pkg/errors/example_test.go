package errors_test

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/stacksampler/pkg/errors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := errors.New(errors.ErrorTypeConfig, "pool capacity must not be negative").
		WithDetail("capacity", -1)

	fmt.Println(err.Error())

	// Output:
	// config: pool capacity must not be negative
}

// ExampleWrap shows how to wrap an underlying error with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeData, "failed to decode batch").
		WithDetail("format", "avro")

	if errors.IsType(err, errors.ErrorTypeData) {
		fmt.Println("data error")
	}
	if stderrors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("caused by unexpected EOF")
	}

	// Output:
	// data error
	// caused by unexpected EOF
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, errors.Wrap(nil, errors.ErrorTypeInternal, "nothing"))
}

func TestWrapPreservesStack(t *testing.T) {
	inner := errors.New(errors.ErrorTypeConnection, "broker unavailable")
	outer := errors.Wrap(inner, errors.ErrorTypeData, "flush failed")

	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, errors.IsType(outer, errors.ErrorTypeData))
	assert.Equal(t, "data: flush failed: connection: broker unavailable", outer.Error())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, errors.IsRetryable(errors.New(errors.ErrorTypeConnection, "timeout")))
	assert.False(t, errors.IsRetryable(errors.New(errors.ErrorTypeConfig, "bad")))
	assert.False(t, errors.IsRetryable(io.EOF))
}

func TestNewf(t *testing.T) {
	err := errors.Newf(errors.ErrorTypeValidation, "unknown sink type %q", "ftp")
	assert.Equal(t, `validation: unknown sink type "ftp"`, err.Error())
	assert.NotEmpty(t, err.Stack)
}
