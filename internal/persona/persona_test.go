package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/folio/internal/profile"
)

func mustDoc(t *testing.T, raw string) profile.Document {
	t.Helper()
	doc, err := profile.Parse([]byte(raw))
	require.NoError(t, err)
	return doc
}

func TestBuildEmbedsProfileVerbatim(t *testing.T) {
	doc := mustDoc(t, `{"name":"Ada Lovelace","skills":["Go","<b>SQL</b>"],"note":"a & b"}`)

	got, err := Build(doc)
	require.NoError(t, err)

	assert.Contains(t, got.String(), doc.JSON())
	assert.True(t, strings.HasPrefix(got.String(), "You are me - Ada Lovelace."))
	assert.Contains(t, got.String(), "KNOWLEDGE BOUNDARIES")
	assert.Contains(t, got.String(), "No meta commentary")
}

func TestBuildIsDeterministic(t *testing.T) {
	doc := mustDoc(t, `{"name":"Ada","projects":[{"title":"Engine","year":1843}]}`)

	first, err := Build(doc)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Build(doc)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBuildWithoutName(t *testing.T) {
	got, err := Build(mustDoc(t, `{"skills":["Go"]}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.String(), "You are me, the owner of this portfolio."))
}

func TestBuildRejectsZeroDocument(t *testing.T) {
	_, err := Build(profile.Document{})
	assert.ErrorIs(t, err, ErrEmptyProfile)
}

func TestNewRejectsBadTemplates(t *testing.T) {
	_, err := New("")
	require.Error(t, err)

	_, err = New("no slot here")
	require.Error(t, err)

	_, err = New("{{ .Profile ")
	require.Error(t, err)
}

func TestCustomTemplateFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("Answer only from: {{ .Profile }}"), 0o600))

	b, err := FromFile(path)
	require.NoError(t, err)

	got, err := b.Build(mustDoc(t, `{"name":"Ada"}`))
	require.NoError(t, err)
	assert.Equal(t, Instruction(`Answer only from: {"name":"Ada"}`), got)
}

func TestChatPrompt(t *testing.T) {
	inst := Instruction("INSTR")
	assert.Equal(t, "INSTR\n\nUser Question: What do you do?", inst.ChatPrompt("What do you do?"))
}

func TestOpeningTurn(t *testing.T) {
	assert.Equal(t,
		"INSTR\n\nIMPORTANT: Start the conversation now by briefly introducing yourself.",
		Instruction("INSTR").OpeningTurn())
	assert.Equal(t, "Hello! Please briefly introduce yourself.", Instruction("  ").OpeningTurn())
}
