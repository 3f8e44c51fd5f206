package textmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"list", "the", "files", "in", "tmp"}, Tokenize("List the files in /tmp"))
	assert.Equal(t, []string{"run_shell", "ls", "-la"}, Tokenize("run_shell: ls -la"))
	assert.Empty(t, Tokenize("a . b"))
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"list", "files", "tmp"}, Keywords("List the files in /tmp please, the files"))
	assert.Equal(t, []string{"list_dir", "list", "dir"}, Keywords("list_dir"))
}

func TestSimilarity(t *testing.T) {
	kw := Keywords("List the files in /tmp")

	listDir := Similarity(kw, "list_dir", "List the entries of a directory")
	readFile := Similarity(kw, "read_file", "Read the contents of a text file")
	shell := Similarity(kw, "run_shell", "Execute a shell command")

	assert.Greater(t, listDir, readFile)
	assert.Greater(t, listDir, shell)
	assert.Equal(t, 0.0, shell)

	fileKw := Keywords("Read the config file")
	assert.Greater(t, Similarity(fileKw, "read_file", "Read the contents of a text file"),
		Similarity(fileKw, "list_dir", "List the entries of a directory"))
	assert.LessOrEqual(t, listDir, 1.0)

	assert.Equal(t, 0.0, Similarity(nil, "x", "y"))
}
