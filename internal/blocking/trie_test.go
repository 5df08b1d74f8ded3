package blocking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrie_ExactBlock(t *testing.T) {
	trie := NewTrie(nil)
	trie.Insert("ads.example.com", false)

	blocked, matched := trie.Lookup("ads.example.com.")
	assert.True(t, blocked)
	assert.Equal(t, "ads.example.com.", matched)

	blocked, _ = trie.Lookup("example.com.")
	assert.False(t, blocked)
}

func TestTrie_WildcardMatchesProperSubdomainsOnly(t *testing.T) {
	trie := NewTrie(nil)
	trie.Insert("doubleclick.net", true)

	blocked, _ := trie.Lookup("ads.doubleclick.net.")
	assert.True(t, blocked)

	blocked, _ = trie.Lookup("doubleclick.net.")
	assert.False(t, blocked, "a wildcard rule must not match its own base name")
}

func TestTrie_ParentSupersedesDescendant(t *testing.T) {
	trie := NewTrie(nil)
	trie.Insert("ads.example.com", false)
	trie.Insert("example.com", false)

	blocked, matched := trie.Lookup("ads.example.com.")
	assert.True(t, blocked)
	assert.Equal(t, "example.com.", matched, "parent rule should now be the match")
	assert.Equal(t, 1, trie.Count(), "descendant rule must be dropped on insert of its parent")
}

func TestTrie_DescendantInsertAfterParentIsNoop(t *testing.T) {
	trie := NewTrie(nil)
	trie.Insert("example.com", false)
	trie.Insert("ads.example.com", false)

	assert.Equal(t, 1, trie.Count())
}

func TestTrie_RefusesBareTLD(t *testing.T) {
	trie := NewTrie(nil)
	trie.Insert("com", false)
	assert.Equal(t, 0, trie.Count())
}

func TestTrie_AllowlistOverridesBlock(t *testing.T) {
	trie := NewTrie(nil)
	trie.Insert("example.com", true)
	trie.InsertAllow("safe.example.com")

	blocked, _ := trie.Lookup("safe.example.com.")
	assert.False(t, blocked)

	blocked, _ = trie.Lookup("other.example.com.")
	assert.True(t, blocked)
}
