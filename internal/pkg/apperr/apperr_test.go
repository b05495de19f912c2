package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	base := Validationf("limit must be > 0, got %d", 0)
	wrapped := fmt.Errorf("query decisions: %w", base)

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindValidation))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation: http.StatusBadRequest,
		KindNotFound:   http.StatusNotFound,
		KindConflict:   http.StatusConflict,
		KindUpstream:   http.StatusInternalServerError,
		KindInternal:   http.StatusInternalServerError,
	}
	for kind, want := range cases {
		t.Run(kind.String(), func(t *testing.T) {
			assert.Equal(t, want, HTTPStatus(kind))
		})
	}
}

func TestPublicMessageHidesDetail(t *testing.T) {
	up := Upstream(errors.New("dial tcp 10.0.0.3:443: i/o timeout"), "yield feed unavailable")
	assert.Equal(t, "yield feed unavailable", PublicMessage(up))
	assert.Contains(t, up.Error(), "i/o timeout")
	assert.True(t, errors.Is(up, errors.Unwrap(up)))

	assert.Equal(t, "internal error", PublicMessage(errors.New("sql: database is closed")))
	assert.Equal(t, "decision 1-x not found", PublicMessage(NotFoundf("decision %s not found", "1-x")))
}
