package admin

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/openai"
)

func TestJudgeError(t *testing.T) {
	t.Run("deadline maps to timeout", func(t *testing.T) {
		err := judgeError(context.DeadlineExceeded)
		assert.ErrorIs(t, err, domain.ErrJudgeTimeout)
	})

	t.Run("unparseable reply maps to unparseable", func(t *testing.T) {
		err := judgeError(fmt.Errorf("%w: bad json", openai.ErrUnparseable))
		assert.ErrorIs(t, err, domain.ErrJudgeUnparseable)
	})

	t.Run("empty reply maps to unparseable", func(t *testing.T) {
		err := judgeError(openai.ErrEmptyReply)
		assert.ErrorIs(t, err, domain.ErrJudgeUnparseable)
	})

	t.Run("anything else maps to call failed", func(t *testing.T) {
		err := judgeError(errors.New("connection refused"))
		assert.ErrorIs(t, err, domain.ErrJudgeCallFailed)
	})
}
