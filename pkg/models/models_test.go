package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewMessageCopiesMetadata(t *testing.T) {
	meta := map[string]any{"channel": "C1"}
	msg := NewMessage("U1", "hi", time.Unix(0, 0), PlatformSlack, "", meta)

	meta["channel"] = "C2"

	v, ok := msg.Meta("channel")
	assert.True(t, ok)
	assert.Equal(t, "C1", v)
}

func TestWithCategoryLeavesOriginalUntouched(t *testing.T) {
	msg := NewMessage("U1", "hi", time.Unix(0, 0), PlatformWeb, "", nil)
	labelled := msg.WithCategory(CategoryGeneral)

	assert.Equal(t, Category(""), msg.Category)
	assert.Equal(t, CategoryGeneral, labelled.Category)
}

func TestCategoryValid(t *testing.T) {
	for _, c := range Categories() {
		assert.True(t, c.Valid(), c)
	}
	assert.False(t, Category("other").Valid())
}

func TestNewResponseSuggestedActions(t *testing.T) {
	assert.Nil(t, NewResponse("x", CategoryGeneral).SuggestedActions)

	actions := []string{"a", "b"}
	resp := NewResponse("x", CategoryGeneral, actions...)
	actions[0] = "z"
	assert.Equal(t, []string{"a", "b"}, resp.SuggestedActions)
}
