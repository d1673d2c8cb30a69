package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordQuery(t *testing.T) {
	assert.Equal(t, "was | the | search | warrant | lawful", keywordQuery("Was the search (warrant) lawful? Was it"))
	assert.Equal(t, "", keywordQuery("a, b; 12"))
	assert.Equal(t, "обыск | без | ордера", keywordQuery("Обыск без ордера"))
}
