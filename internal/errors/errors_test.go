package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"codeberg.org/mutker/beamlog/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	f := errors.New()

	assert.Equal(t, "Invalid configuration", f.New(errors.ErrInvalidConfig).Error())
	assert.Equal(t, "custom", f.WithMessage(errors.ErrInvalidConfig, "custom").Error())
	assert.Equal(t, "unknown_code", f.New(errors.ErrorCode("unknown_code")).Error())

	wrapped := f.Wrap(errors.ErrMainLoop, stderrors.New("boom"))
	assert.Equal(t, "Error in main loop: boom", wrapped.Error())

	withData := f.WithData(errors.ErrInvalidConfig, "min_period")
	assert.Equal(t, "Invalid configuration: min_period", withData.Error())
	assert.Equal(t, "min_period", withData.GetData())
}

func TestHasCode(t *testing.T) {
	f := errors.New()
	base := stderrors.New("disk full")
	inner := f.Wrap(errors.ErrInternal, base)
	outer := f.Wrap(errors.ErrMainLoop, fmt.Errorf("iteration: %w", inner))

	assert.True(t, errors.HasCode(outer, errors.ErrMainLoop))
	assert.True(t, errors.HasCode(outer, errors.ErrInternal))
	assert.False(t, errors.HasCode(outer, errors.ErrTimeout))
	assert.False(t, errors.HasCode(base, errors.ErrInternal))
	assert.False(t, errors.HasCode(nil, errors.ErrInternal))
	assert.True(t, errors.Is(outer, base))
}

func TestWithMessageKeepsCode(t *testing.T) {
	err := errors.New().New(errors.ErrTimeout).WithMessage("took too long")

	assert.Equal(t, errors.ErrTimeout, err.Code())
	assert.Equal(t, "took too long", err.Error())
}

type plainCoded struct{}

func (plainCoded) Error() string          { return "plain" }
func (plainCoded) Code() errors.ErrorCode { return errors.ErrTimeout }

func TestCodeOf(t *testing.T) {
	f := errors.New()

	assert.Equal(t, errors.ErrMainLoop, errors.CodeOf(f.Wrap(errors.ErrMainLoop, f.New(errors.ErrTimeout))))
	assert.Equal(t, errors.ErrTimeout, errors.CodeOf(fmt.Errorf("ctx: %w", f.New(errors.ErrTimeout))))
	assert.Equal(t, errors.ErrorCode(""), errors.CodeOf(stderrors.New("plain")))

	// Any Coder in the chain counts
	assert.True(t, errors.HasCode(fmt.Errorf("wrapped: %w", plainCoded{}), errors.ErrTimeout))
}
